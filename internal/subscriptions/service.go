package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/internal/scoring"
	"github.com/subradar/subradar-backend/internal/userlock"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
	"github.com/subradar/subradar-backend/pkg/pagination"
	"github.com/subradar/subradar-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Scorer recomputes a subscription's score inside an open transaction.
type Scorer interface {
	ComputeScoreTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) (scoring.Result, error)
}

// Service is the user-scoped subscription store plus the duplicate merge engine.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Subscription, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Detail, error)
	Update(ctx context.Context, userID, id uuid.UUID, input UpdateInput) (*models.Subscription, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	SetStatus(ctx context.Context, userID, id uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error)
	MergeDuplicates(ctx context.Context, userID uuid.UUID) (*MergeReport, error)
}

// CreateInput is one candidate subscription fact.
type CreateInput struct {
	ServiceName   string
	Tier          *string
	Amount        decimal.Decimal
	Currency      enums.Currency
	BillingCycle  enums.BillingCycle
	NextRenewal   *time.Time
	PaymentMethod *string
	Source        enums.SubscriptionSource
	ExternalID    *string
}

// UpdateInput is a partial patch. Nil pointers and unset Nullable fields are left untouched.
type UpdateInput struct {
	ServiceName   *string
	Tier          types.Nullable[string]
	Amount        *decimal.Decimal
	Currency      *enums.Currency
	BillingCycle  *enums.BillingCycle
	NextRenewal   types.Nullable[time.Time]
	PaymentMethod types.Nullable[string]
	Status        *enums.SubscriptionStatus
}

// ListParams configures list filtering and pagination.
type ListParams struct {
	UserID uuid.UUID
	Status *enums.SubscriptionStatus
	Limit  int
	Cursor string
}

// ListResult wraps returned subscriptions and the cursor for the next page.
type ListResult = types.Page[models.Subscription]

// Detail is a subscription joined with its usage record and insights.
type Detail struct {
	models.Subscription
	Usage    *models.UsageRecord `json:"usage,omitempty"`
	Insights []models.Insight    `json:"insights"`
}

// ServiceParams wires the subscription service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Scorer   Scorer
	Strategy PrimaryStrategy
	Locker   userlock.Locker
	Metrics  *metrics.PipelineMetrics
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	scorer   Scorer
	strategy PrimaryStrategy
	locker   userlock.Locker
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewService wires subscription dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscriptions repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	strategy := params.Strategy
	if strategy == "" {
		strategy = StrategyFirstCreated
	}
	if !strategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown merge primary strategy")
	}
	locker := params.Locker
	if locker == nil {
		locker = userlock.Noop{}
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		scorer:   params.Scorer,
		strategy: strategy,
		locker:   locker,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	sub, err := buildSubscription(userID, input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}
	return sub, nil
}

func buildSubscription(userID uuid.UUID, input CreateInput) (*models.Subscription, error) {
	name := strings.TrimSpace(input.ServiceName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service name required")
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription source")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	cycle := input.BillingCycle
	if cycle == "" {
		cycle = enums.BillingCycleMonthly
	}
	if !cycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle")
	}
	payment := trimmedPtr(input.PaymentMethod)
	if payment != nil && !ValidPaymentMethod(*payment) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be a masked fingerprint like ****1234")
	}

	var renewal *time.Time
	if input.NextRenewal != nil {
		ts := input.NextRenewal.UTC()
		renewal = &ts
	}

	return &models.Subscription{
		UserID:        userID,
		ServiceName:   name,
		Tier:          trimmedPtr(input.Tier),
		Amount:        input.Amount.Round(2),
		Currency:      currency,
		BillingCycle:  cycle,
		NextRenewal:   renewal,
		PaymentMethod: payment,
		Source:        input.Source,
		Status:        enums.SubscriptionStatusActive,
		ExternalID:    trimmedPtr(input.ExternalID),
	}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	query := listSubscriptionsParams{
		UserID: params.UserID,
		Status: params.Status,
		Limit:  params.Limit,
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}

	cursor := ""
	if next != nil {
		cursor = next.Encode()
	}
	page := types.NewPage(rows, cursor)
	return &page, nil
}

func (s *service) ListAllForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	subs, err := s.repo.ListAllForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	return subs, nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (*Detail, error) {
	sub, err := s.findOwned(ctx, s.repo, userID, id)
	if err != nil {
		return nil, err
	}

	usage, err := s.repo.UsageFor(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage record")
	}
	insights, err := s.repo.InsightsFor(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load insights")
	}

	detail := &Detail{Subscription: *sub, Insights: insights}
	if len(usage) > 0 {
		detail.Usage = &usage[0]
	}
	if detail.Insights == nil {
		detail.Insights = []models.Insight{}
	}
	return detail, nil
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, input UpdateInput) (*models.Subscription, error) {
	fields, err := updateFields(input)
	if err != nil {
		return nil, err
	}

	var out *models.Subscription
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.findOwned(ctx, repo, userID, id); err != nil {
			return err
		}
		if err := repo.Updates(ctx, id, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		updated, err := repo.FindForUser(ctx, userID, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload subscription")
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updateFields(input UpdateInput) (map[string]any, error) {
	fields := map[string]any{}
	if input.ServiceName != nil {
		name := strings.TrimSpace(*input.ServiceName)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "service name cannot be blank")
		}
		fields["service_name"] = name
	}
	if input.Tier.Set {
		fields["tier"] = trimmedPtr(input.Tier.Value)
	}
	if input.Amount != nil {
		if input.Amount.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
		}
		fields["amount"] = input.Amount.Round(2)
	}
	if input.Currency != nil {
		if !input.Currency.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
		}
		fields["currency"] = *input.Currency
	}
	if input.BillingCycle != nil {
		if !input.BillingCycle.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle")
		}
		fields["billing_cycle"] = *input.BillingCycle
	}
	if input.NextRenewal.Set {
		if input.NextRenewal.Value == nil {
			fields["next_renewal"] = nil
		} else {
			fields["next_renewal"] = input.NextRenewal.Value.UTC()
		}
	}
	if input.PaymentMethod.Set {
		payment := trimmedPtr(input.PaymentMethod.Value)
		if payment != nil && !ValidPaymentMethod(*payment) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be a masked fingerprint like ****1234")
		}
		fields["payment_method"] = payment
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
		}
		fields["status"] = *input.Status
	}
	return fields, nil
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.findOwned(ctx, repo, userID, id); err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete subscription")
		}
		return nil
	})
}

func (s *service) SetStatus(ctx context.Context, userID, id uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
	}
	return s.Update(ctx, userID, id, UpdateInput{Status: &status})
}

func (s *service) findOwned(ctx context.Context, repo Repository, userID, id uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and subscription id required")
	}
	sub, err := repo.FindForUser(ctx, userID, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.NotFound("subscription")
	}
	return sub, nil
}
