package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/internal/scoring"
	pkgdb "github.com/subradar/subradar-backend/pkg/db"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
)

const maxUpsertAttempts = 2

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Scorer recomputes a subscription's score inside an open transaction.
type Scorer interface {
	ComputeScoreTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) (scoring.Result, error)
}

// Service tracks recency signals per subscription.
type Service interface {
	RecordSignal(ctx context.Context, subscriptionID uuid.UUID, kind enums.SignalKind, at time.Time) (*models.UsageRecord, error)
	GetBySubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UsageRecord, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]RecordWithSubscription, error)
	Upsert(ctx context.Context, userID uuid.UUID, input UpsertInput) (*models.UsageRecord, error)
	DeleteForUser(ctx context.Context, userID, usageID uuid.UUID) error
}

// UpsertInput carries manually reported signals. Nil fields are left untouched.
type UpsertInput struct {
	SubscriptionID uuid.UUID
	LastEmailDate  *time.Time
	LastAPIUse     *time.Time
	LastLogin      *time.Time
}

// ServiceParams wires the usage service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Scorer Scorer
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	tx     txRunner
	scorer Scorer
	logg   *logger.Logger
}

// NewService wires usage dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Scorer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "scorer required")
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		scorer: params.Scorer,
		logg:   params.Logger,
	}, nil
}

// RecordSignal raises the kind timestamp to at (never lowering it) and recomputes the score.
func (s *service) RecordSignal(ctx context.Context, subscriptionID uuid.UUID, kind enums.SignalKind, at time.Time) (*models.UsageRecord, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid signal kind")
	}
	if at.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signal timestamp required")
	}

	return s.applySignals(ctx, subscriptionID, map[enums.SignalKind]time.Time{kind: at})
}

func (s *service) applySignals(ctx context.Context, subscriptionID uuid.UUID, signals map[enums.SignalKind]time.Time) (*models.UsageRecord, error) {
	var (
		out *models.UsageRecord
		err error
	)
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		out, err = s.applySignalsOnce(ctx, subscriptionID, signals)
		if err == nil || !pkgdb.IsUniqueViolation(err, "") {
			break
		}
	}
	if err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent usage update")
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record usage signal")
	}
	return out, nil
}

func (s *service) applySignalsOnce(ctx context.Context, subscriptionID uuid.UUID, signals map[enums.SignalKind]time.Time) (*models.UsageRecord, error) {
	var out *models.UsageRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rec, err := repo.FindBySubscription(ctx, subscriptionID, true)
		if err != nil {
			return err
		}

		created := rec == nil
		if created {
			rec = &models.UsageRecord{SubscriptionID: subscriptionID}
		}
		changed := false
		for kind, at := range signals {
			if rec.ApplySignal(kind, at) {
				changed = true
			}
		}

		switch {
		case created:
			if err := repo.Create(ctx, rec); err != nil {
				return err
			}
		case changed:
			if err := repo.SaveSignals(ctx, rec); err != nil {
				return err
			}
		}

		result, err := s.scorer.ComputeScoreTx(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		rec.Score = result.Score
		rec.Classification = result.Classification
		out = rec
		return nil
	})
	return out, err
}

func (s *service) GetBySubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.UsageRecord, error) {
	if err := s.requireOwnership(ctx, userID, subscriptionID); err != nil {
		return nil, err
	}
	rec, err := s.repo.FindBySubscription(ctx, subscriptionID, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage record")
	}
	if rec == nil {
		return nil, pkgerrors.NotFound("usage record")
	}
	return rec, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]RecordWithSubscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list usage records")
	}
	return rows, nil
}

// Upsert applies manually reported signals. Provided timestamps follow the same
// monotonic rule as RecordSignal.
func (s *service) Upsert(ctx context.Context, userID uuid.UUID, input UpsertInput) (*models.UsageRecord, error) {
	if err := s.requireOwnership(ctx, userID, input.SubscriptionID); err != nil {
		return nil, err
	}

	signals := map[enums.SignalKind]time.Time{}
	if input.LastEmailDate != nil {
		signals[enums.SignalKindEmail] = *input.LastEmailDate
	}
	if input.LastAPIUse != nil {
		signals[enums.SignalKindAPIUse] = *input.LastAPIUse
	}
	if input.LastLogin != nil {
		signals[enums.SignalKindLogin] = *input.LastLogin
	}

	rec, err := s.applySignals(ctx, input.SubscriptionID, signals)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithUserID(ctx, userID.String())
		s.logg.Info(s.logg.WithSubscriptionID(logCtx, input.SubscriptionID.String()), "usage record upserted")
	}
	return rec, nil
}

// DeleteForUser removes a usage record only when its subscription belongs to userID.
func (s *service) DeleteForUser(ctx context.Context, userID, usageID uuid.UUID) error {
	if userID == uuid.Nil || usageID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and usage id required")
	}
	rec, err := s.repo.FindOwned(ctx, userID, usageID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage record")
	}
	if rec == nil {
		return pkgerrors.NotFound("usage record")
	}
	if err := s.repo.Delete(ctx, usageID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete usage record")
	}
	return nil
}

func (s *service) requireOwnership(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	if userID == uuid.Nil || subscriptionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and subscription id required")
	}
	owned, err := s.repo.SubscriptionOwned(ctx, userID, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check subscription ownership")
	}
	if !owned {
		return pkgerrors.NotFound("subscription")
	}
	return nil
}
