package subscriptions

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

// PrimaryStrategy picks which record of a duplicate group survives a merge.
type PrimaryStrategy string

const (
	StrategyFirstCreated  PrimaryStrategy = "first_created"
	StrategyMostComplete  PrimaryStrategy = "most_complete"
	StrategyLatestRenewal PrimaryStrategy = "latest_renewal"
)

// IsValid reports whether s names a known strategy.
func (s PrimaryStrategy) IsValid() bool {
	switch s {
	case StrategyFirstCreated, StrategyMostComplete, StrategyLatestRenewal:
		return true
	}
	return false
}

// ParsePrimaryStrategy maps a config value onto a strategy; blank means first_created.
func ParsePrimaryStrategy(value string) (PrimaryStrategy, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return StrategyFirstCreated, nil
	}
	s := PrimaryStrategy(trimmed)
	if !s.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown merge primary strategy").
			WithDetails(map[string]any{"value": value})
	}
	return s, nil
}

// MergeReport summarizes one merge pass.
type MergeReport struct {
	Groups int            `json:"groups"`
	Merged int            `json:"merged"`
	Failed []GroupFailure `json:"failed,omitempty"`
}

// GroupFailure names a duplicate group whose transaction rolled back.
type GroupFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type duplicateGroup struct {
	key  string
	subs []models.Subscription
}

// MergeDuplicates collapses every group of same-named subscriptions into one record.
func (s *service) MergeDuplicates(ctx context.Context, userID uuid.UUID) (*MergeReport, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	var report *MergeReport
	err := s.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		report, err = s.mergeAll(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *service) mergeAll(ctx context.Context, userID uuid.UUID) (*MergeReport, error) {
	subs, err := s.repo.ListAllForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}

	report := &MergeReport{}
	for _, group := range groupDuplicates(subs) {
		report.Groups++
		if err := s.mergeGroup(ctx, group); err != nil {
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"user_id":   userID.String(),
				"merge_key": group.key,
			}), "merge group failed", err)
			report.Failed = append(report.Failed, GroupFailure{Key: group.key, Error: err.Error()})
			continue
		}
		report.Merged += len(group.subs) - 1
	}

	s.metrics.AddMerged(report.Merged)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": userID.String(),
		"groups":  report.Groups,
		"merged":  report.Merged,
		"failed":  len(report.Failed),
	}), "merge pass complete")
	return report, nil
}

// groupDuplicates buckets subscriptions by normalized name and keeps buckets with more than one member.
// Groups come back in the order their first member was seen.
func groupDuplicates(subs []models.Subscription) []duplicateGroup {
	index := map[string]int{}
	var groups []duplicateGroup
	for _, sub := range subs {
		key := NormalizeName(sub.ServiceName)
		if i, ok := index[key]; ok {
			groups[i].subs = append(groups[i].subs, sub)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, duplicateGroup{key: key, subs: []models.Subscription{sub}})
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.subs) > 1 {
			out = append(out, g)
		}
	}
	return out
}

func (s *service) mergeGroup(ctx context.Context, group duplicateGroup) error {
	primary, rest := choosePrimary(group.subs, s.strategy)
	restIDs := make([]uuid.UUID, 0, len(rest))
	for _, sub := range rest {
		restIDs = append(restIDs, sub.ID)
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		fields := map[string]any{"amount": meanAmount(group.subs)}
		if renewal := latestRenewal(group.subs); renewal != nil {
			fields["next_renewal"] = *renewal
		}
		if err := repo.Updates(ctx, primary.ID, fields); err != nil {
			return err
		}

		if err := s.foldUsage(ctx, repo, primary.ID, restIDs); err != nil {
			return err
		}
		if err := repo.RepointInsights(ctx, restIDs, primary.ID); err != nil {
			return err
		}
		if err := repo.Delete(ctx, restIDs...); err != nil {
			return err
		}

		if s.scorer != nil {
			if _, err := s.scorer.ComputeScoreTx(ctx, tx, primary.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// foldUsage raises the primary's usage signals to the latest seen across the group.
func (s *service) foldUsage(ctx context.Context, repo Repository, primaryID uuid.UUID, restIDs []uuid.UUID) error {
	recs, err := repo.UsageFor(ctx, append([]uuid.UUID{primaryID}, restIDs...)...)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	var target *models.UsageRecord
	for i := range recs {
		if recs[i].SubscriptionID == primaryID {
			target = &recs[i]
			break
		}
	}
	if target == nil {
		target = &models.UsageRecord{
			SubscriptionID: primaryID,
			Classification: enums.UsageClassificationUnused,
		}
	}

	changed := target.ID == uuid.Nil
	for _, rec := range recs {
		if rec.SubscriptionID == primaryID {
			continue
		}
		for _, kind := range []enums.SignalKind{enums.SignalKindEmail, enums.SignalKindAPIUse, enums.SignalKindLogin} {
			if at := rec.Signal(kind); at != nil && target.ApplySignal(kind, *at) {
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	return repo.SaveUsage(ctx, target)
}

func choosePrimary(subs []models.Subscription, strategy PrimaryStrategy) (models.Subscription, []models.Subscription) {
	ordered := make([]models.Subscription, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return earlier(ordered[i], ordered[j])
	})

	best := 0
	switch strategy {
	case StrategyMostComplete:
		for i := 1; i < len(ordered); i++ {
			if completeness(ordered[i]) > completeness(ordered[best]) {
				best = i
			}
		}
	case StrategyLatestRenewal:
		for i := 1; i < len(ordered); i++ {
			cand, cur := ordered[i].NextRenewal, ordered[best].NextRenewal
			if cand != nil && (cur == nil || cand.After(*cur)) {
				best = i
			}
		}
	}

	primary := ordered[best]
	rest := make([]models.Subscription, 0, len(ordered)-1)
	rest = append(rest, ordered[:best]...)
	rest = append(rest, ordered[best+1:]...)
	return primary, rest
}

func earlier(a, b models.Subscription) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func completeness(sub models.Subscription) int {
	n := 0
	if sub.Tier != nil {
		n++
	}
	if sub.NextRenewal != nil {
		n++
	}
	if sub.PaymentMethod != nil {
		n++
	}
	if sub.ExternalID != nil {
		n++
	}
	return n
}

func meanAmount(subs []models.Subscription) decimal.Decimal {
	total := decimal.Zero
	for _, sub := range subs {
		total = total.Add(sub.Amount)
	}
	return total.Div(decimal.NewFromInt(int64(len(subs)))).Round(2)
}

func latestRenewal(subs []models.Subscription) *time.Time {
	var latest *time.Time
	for _, sub := range subs {
		if sub.NextRenewal == nil {
			continue
		}
		if latest == nil || sub.NextRenewal.After(*latest) {
			ts := sub.NextRenewal.UTC()
			latest = &ts
		}
	}
	return latest
}
