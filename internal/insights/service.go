package insights

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subradar/subradar-backend/internal/notifications"
	"github.com/subradar/subradar-backend/internal/scoring"
	"github.com/subradar/subradar-backend/internal/subscriptions"
	"github.com/subradar/subradar-backend/internal/userlock"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
	"github.com/subradar/subradar-backend/pkg/pagination"
	"github.com/subradar/subradar-backend/pkg/types"
)

// Service generates and lists insights.
type Service interface {
	GenerateInsights(ctx context.Context, userID uuid.UUID) ([]models.Insight, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type subscriptionLister interface {
	ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

// Scorer recomputes a subscription's usage score.
type Scorer interface {
	ComputeScore(ctx context.Context, subscriptionID uuid.UUID) (scoring.Result, error)
}

// ListParams configures pagination for insights.
type ListParams struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Type           *enums.InsightType
	Limit          int
	Cursor         string
}

// ListResult wraps returned insights and the cursor for the next page.
type ListResult = types.Page[models.Insight]

type ServiceParams struct {
	Repo          Repository
	Subscriptions subscriptionLister
	Scorer        Scorer
	Sender        notifications.Sender
	Exporter      Exporter
	Locker        userlock.Locker
	Metrics       *metrics.PipelineMetrics
	Logger        *logger.Logger
	AIKeywords    []string
	// DedupeWindow suppresses identical insights created within the window. Zero keeps every run.
	DedupeWindow time.Duration
	Now          func() time.Time
}

type service struct {
	repo         Repository
	subs         subscriptionLister
	scorer       Scorer
	sender       notifications.Sender
	exporter     Exporter
	locker       userlock.Locker
	metrics      *metrics.PipelineMetrics
	logg         *logger.Logger
	aiKeywords   []string
	dedupeWindow time.Duration
	now          func() time.Time
}

// NewService wires insight dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "insights repository required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription store required")
	}
	if params.Scorer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "scoring engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	sender := params.Sender
	if sender == nil {
		sender = notifications.Noop{}
	}
	locker := params.Locker
	if locker == nil {
		locker = userlock.Noop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		subs:         params.Subscriptions,
		scorer:       params.Scorer,
		sender:       sender,
		exporter:     params.Exporter,
		locker:       locker,
		metrics:      params.Metrics,
		logg:         params.Logger,
		aiKeywords:   normalizeKeywords(params.AIKeywords),
		dedupeWindow: params.DedupeWindow,
		now:          now,
	}, nil
}

func (s *service) GenerateInsights(ctx context.Context, userID uuid.UUID) ([]models.Insight, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	var created []models.Insight
	err := s.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		created, err = s.generate(ctx, userID)
		return err
	})
	return created, err
}

func (s *service) generate(ctx context.Context, userID uuid.UUID) ([]models.Insight, error) {
	ctx = s.logg.WithUserID(ctx, userID.String())
	subs, err := s.subs.ListAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var candidates []models.Insight
	for _, sub := range subs {
		result, err := s.scorer.ComputeScore(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if result.Classification != enums.UsageClassificationUnused {
			continue
		}
		subID := sub.ID
		candidates = append(candidates, models.Insight{
			UserID:         userID,
			SubscriptionID: &subID,
			Type:           enums.InsightTypeRecommendation,
			Message:        unusedMessage(sub),
		})
	}
	if warning, ok := s.overlapWarning(userID, subs); ok {
		candidates = append(candidates, warning)
	}

	created, err := s.persist(ctx, candidates)
	s.announce(ctx, userID, created)
	return created, err
}

// persist writes candidates in order and stops at the first failure. Rows
// written before the failure stay committed and are returned with the error.
func (s *service) persist(ctx context.Context, candidates []models.Insight) ([]models.Insight, error) {
	created := make([]models.Insight, 0, len(candidates))
	for i := range candidates {
		insight := candidates[i]
		if s.dedupeWindow > 0 {
			exists, err := s.repo.ExistsSince(ctx, dedupeKey{
				UserID:         insight.UserID,
				SubscriptionID: insight.SubscriptionID,
				Type:           insight.Type,
				Message:        insight.Message,
			}, s.now().UTC().Add(-s.dedupeWindow))
			if err != nil {
				return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check recent insights")
			}
			if exists {
				continue
			}
		}
		insight.CreatedAt = s.now().UTC()
		if err := s.repo.Create(ctx, &insight); err != nil {
			return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create insight")
		}
		s.metrics.IncInsight(string(insight.Type))
		created = append(created, insight)
	}
	return created, nil
}

// announce notifies and exports whatever was created. Failures are logged only.
func (s *service) announce(ctx context.Context, userID uuid.UUID, created []models.Insight) {
	if len(created) == 0 {
		s.logg.Debug(ctx, "no insights generated")
		return
	}
	s.logg.Info(s.logg.WithField(ctx, "insights", len(created)), "insights generated")

	if err := s.sender.SendSummary(ctx, userID, created); err != nil {
		s.logg.Error(ctx, "send insight summary", err)
	}
	if s.exporter != nil {
		if err := s.exporter.Export(ctx, created); err != nil {
			s.logg.Error(ctx, "export insights", err)
		}
	}
}

func (s *service) overlapWarning(userID uuid.UUID, subs []models.Subscription) (models.Insight, bool) {
	var names []string
	for _, sub := range subs {
		if s.isAIService(sub.ServiceName) {
			names = append(names, sub.ServiceName)
		}
	}
	if len(names) <= 1 {
		return models.Insight{}, false
	}
	return models.Insight{
		UserID: userID,
		Type:   enums.InsightTypeWarning,
		Message: fmt.Sprintf("You have %d AI-related subscriptions: %s. Consider consolidating to reduce costs.",
			len(names), strings.Join(names, ", ")),
	}, true
}

func (s *service) isAIService(name string) bool {
	normalized := subscriptions.NormalizeName(name)
	for _, keyword := range s.aiKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if params.Type != nil && !params.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid insight type")
	}

	query := listInsightsParams{
		UserID:         params.UserID,
		SubscriptionID: params.SubscriptionID,
		Type:           params.Type,
		Limit:          params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.Decode(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list insights")
	}

	cursor := ""
	if next != nil {
		cursor = next.Encode()
	}
	page := types.NewPage(rows, cursor)
	return &page, nil
}

func unusedMessage(sub models.Subscription) string {
	saving := MonthlyEquivalent(sub.Amount, sub.BillingCycle)
	return fmt.Sprintf("Subscription %q appears unused. Consider canceling to save %s %s per month.",
		sub.ServiceName, saving.StringFixed(2), sub.Currency)
}

// MonthlyEquivalent converts a per-cycle amount into a per-month figure rounded to cents.
func MonthlyEquivalent(amount decimal.Decimal, cycle enums.BillingCycle) decimal.Decimal {
	months := decimal.NewFromInt(12)
	switch cycle {
	case enums.BillingCycleYearly:
		amount = amount.Div(months)
	case enums.BillingCycleWeekly:
		amount = amount.Mul(decimal.NewFromInt(52)).Div(months)
	case enums.BillingCycleDaily:
		amount = amount.Mul(decimal.NewFromInt(365)).Div(months)
	}
	return amount.Round(2)
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		out = []string{"ai"}
	}
	return out
}
