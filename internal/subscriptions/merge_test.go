package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/internal/scoring"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

func (f fixture) seed(t *testing.T, name string, amount string, createdAt time.Time, renewal *time.Time) models.Subscription {
	t.Helper()
	sub := models.Subscription{
		UserID:       f.userID,
		ServiceName:  name,
		Amount:       decimal.RequireFromString(amount),
		Currency:     enums.CurrencyUSD,
		BillingCycle: enums.BillingCycleMonthly,
		NextRenewal:  renewal,
		Source:       enums.SubscriptionSourceGmail,
		Status:       enums.SubscriptionStatusActive,
		CreatedAt:    createdAt,
	}
	if err := f.conn.Create(&sub).Error; err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return sub
}

func at(day int) time.Time {
	return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// scoreFailsFor delegates to the engine except for one subscription.
type scoreFailsFor struct {
	inner  Scorer
	target uuid.UUID
}

func (s scoreFailsFor) ComputeScoreTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (scoring.Result, error) {
	if id == s.target {
		return scoring.Result{}, errors.New("boom")
	}
	return s.inner.ComputeScoreTx(ctx, tx, id)
}

func TestMergeDuplicatesAveragesAmounts(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	first := f.seed(t, "Netflix", "10", at(1), nil)
	second := f.seed(t, "netflix ", "12", at(2), ptr(at(20)))
	third := f.seed(t, "NETFLIX", "14", at(3), ptr(at(15)))
	f.seed(t, "Spotify", "9.99", at(4), nil)

	report, err := f.svc.MergeDuplicates(ctx, f.userID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if report.Groups != 1 || report.Merged != 2 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	detail, err := f.svc.Get(ctx, f.userID, first.ID)
	if err != nil {
		t.Fatalf("get primary: %v", err)
	}
	if detail.Amount.String() != "12" {
		t.Fatalf("expected mean amount 12, got %s", detail.Amount)
	}
	if detail.NextRenewal == nil || !at(20).Equal(*detail.NextRenewal) {
		t.Fatalf("expected latest renewal, got %v", detail.NextRenewal)
	}

	for _, id := range []uuid.UUID{second.ID, third.ID} {
		if _, err := f.svc.Get(ctx, f.userID, id); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			t.Fatalf("expected duplicate %s deleted, got %v", id, err)
		}
	}

	all, err := f.svc.ListAllForUser(ctx, f.userID)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 subscriptions left, got %d", len(all))
	}
}

func TestMergeDuplicatesIsIdempotent(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "Netflix", "10", at(1), nil)
	f.seed(t, "Netflix", "11", at(2), nil)

	if _, err := f.svc.MergeDuplicates(ctx, f.userID); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	report, err := f.svc.MergeDuplicates(ctx, f.userID)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if report.Groups != 0 || report.Merged != 0 {
		t.Fatalf("expected nothing to merge, got %+v", report)
	}
}

func TestMergeDuplicatesRollsBackOnlyTheFailingGroup(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	netflix := f.seed(t, "Netflix", "10", at(1), nil)
	netflixDup := f.seed(t, "netflix", "12", at(2), nil)
	spotify := f.seed(t, "Spotify", "5", at(3), nil)
	spotifyDup := f.seed(t, "spotify", "7", at(4), nil)

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(f.conn),
		Tx:     f.tx,
		Scorer: scoreFailsFor{inner: f.engine, target: netflix.ID},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	report, err := svc.MergeDuplicates(ctx, f.userID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if report.Groups != 2 || report.Merged != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0].Key != "netflix" || report.Failed[0].Error != "boom" {
		t.Fatalf("expected only the netflix group to fail, got %+v", report.Failed)
	}

	primary, err := svc.Get(ctx, f.userID, netflix.ID)
	if err != nil {
		t.Fatalf("get netflix: %v", err)
	}
	if primary.Amount.String() != "10" {
		t.Fatalf("failed group amount changed to %s", primary.Amount)
	}
	if _, err := svc.Get(ctx, f.userID, netflixDup.ID); err != nil {
		t.Fatalf("failed group duplicate should survive rollback: %v", err)
	}

	merged, err := svc.Get(ctx, f.userID, spotify.ID)
	if err != nil {
		t.Fatalf("get spotify: %v", err)
	}
	if merged.Amount.String() != "6" {
		t.Fatalf("expected spotify merged to 6, got %s", merged.Amount)
	}
	if _, err := svc.Get(ctx, f.userID, spotifyDup.ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected spotify duplicate deleted, got %v", err)
	}
}

func TestMergeDuplicatesFoldsUsageAndInsights(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	primary := f.seed(t, "Claude", "20", at(1), nil)
	dup := f.seed(t, "claude", "20", at(2), nil)

	recent := now.Add(-24 * time.Hour)
	if err := f.conn.Create(&models.UsageRecord{SubscriptionID: primary.ID, LastEmailDate: ptr(at(1))}).Error; err != nil {
		t.Fatalf("seed primary usage: %v", err)
	}
	if err := f.conn.Create(&models.UsageRecord{SubscriptionID: dup.ID, LastAPIUse: &recent}).Error; err != nil {
		t.Fatalf("seed duplicate usage: %v", err)
	}
	insight := models.Insight{UserID: f.userID, SubscriptionID: &dup.ID, Type: enums.InsightTypeWarning, Message: "w"}
	if err := f.conn.Create(&insight).Error; err != nil {
		t.Fatalf("seed insight: %v", err)
	}

	if _, err := f.svc.MergeDuplicates(ctx, f.userID); err != nil {
		t.Fatalf("merge: %v", err)
	}

	detail, err := f.svc.Get(ctx, f.userID, primary.ID)
	if err != nil {
		t.Fatalf("get primary: %v", err)
	}
	if detail.Usage == nil || detail.Usage.LastAPIUse == nil || !recent.Equal(*detail.Usage.LastAPIUse) {
		t.Fatalf("expected folded api use %v, got %+v", recent, detail.Usage)
	}
	if detail.Usage.LastEmailDate == nil {
		t.Fatalf("expected primary email signal kept")
	}
	if detail.Usage.Classification != enums.UsageClassificationActive {
		t.Fatalf("expected active, got %s", detail.Usage.Classification)
	}
	if len(detail.Insights) != 1 || detail.Insights[0].ID != insight.ID {
		t.Fatalf("expected repointed insight, got %+v", detail.Insights)
	}
}

func TestMergeStrategies(t *testing.T) {
	tier := "Pro"
	subs := []models.Subscription{
		{ID: uuid.New(), CreatedAt: at(1)},
		{ID: uuid.New(), CreatedAt: at(2), NextRenewal: ptr(at(28))},
		{ID: uuid.New(), CreatedAt: at(3), Tier: &tier, NextRenewal: ptr(at(10))},
	}

	primary, rest := choosePrimary(subs, StrategyFirstCreated)
	if primary.ID != subs[0].ID || len(rest) != 2 {
		t.Fatalf("first created picked %s with %d rest", primary.ID, len(rest))
	}

	if primary, _ = choosePrimary(subs, StrategyLatestRenewal); primary.ID != subs[1].ID {
		t.Fatalf("latest renewal picked %s", primary.ID)
	}

	primary, rest = choosePrimary(subs, StrategyMostComplete)
	if primary.ID != subs[2].ID || rest[0].ID != subs[0].ID {
		t.Fatalf("most complete picked %s, rest starts with %s", primary.ID, rest[0].ID)
	}
}

func TestParsePrimaryStrategy(t *testing.T) {
	s, err := ParsePrimaryStrategy("")
	if err != nil || s != StrategyFirstCreated {
		t.Fatalf("empty strategy = %v, %v", s, err)
	}

	s, err = ParsePrimaryStrategy(" Most_Complete ")
	if err != nil || s != StrategyMostComplete {
		t.Fatalf("mixed-case strategy = %v, %v", s, err)
	}

	if _, err := ParsePrimaryStrategy("random"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMeanAmountRoundsToCents(t *testing.T) {
	subs := []models.Subscription{
		{Amount: decimal.NewFromInt(10)},
		{Amount: decimal.NewFromInt(10)},
		{Amount: decimal.NewFromInt(11)},
	}
	if got := meanAmount(subs).String(); got != "10.33" {
		t.Fatalf("expected 10.33, got %s", got)
	}
}
