package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/subradar/subradar-backend/internal/ingestion"
	"github.com/subradar/subradar-backend/pkg/db/models"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
)

const (
	IngestionSyncJobName  = "ingestion-sync"
	InsightsWeeklyJobName = "insights-weekly"

	defaultUserConcurrency = 4
)

// UserSource enumerates the users a batch job should visit.
type UserSource interface {
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

type distinctUsers struct {
	db    *gorm.DB
	model any
}

// UsersWithCredentials lists users that have linked at least one provider.
func UsersWithCredentials(db *gorm.DB) UserSource {
	return &distinctUsers{db: db, model: &models.OAuthCredential{}}
}

// UsersWithSubscriptions lists users that own at least one subscription.
func UsersWithSubscriptions(db *gorm.DB) UserSource {
	return &distinctUsers{db: db, model: &models.Subscription{}}
}

func (d *distinctUsers) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.WithContext(ctx).Model(d.model).Distinct("user_id").Order("user_id").Pluck("user_id", &ids).Error
	return ids, err
}

type syncer interface {
	SyncUser(ctx context.Context, userID uuid.UUID) (*ingestion.SyncReport, error)
}

type insightGenerator interface {
	GenerateInsights(ctx context.Context, userID uuid.UUID) ([]models.Insight, error)
}

// UserJobParams configures a job that fans out over users.
type UserJobParams struct {
	Logger      *logger.Logger
	Users       UserSource
	Every       time.Duration
	Concurrency int
	Metrics     *metrics.CronJobMetrics
}

type userJob struct {
	name        string
	logg        *logger.Logger
	users       UserSource
	every       time.Duration
	concurrency int
	metrics     *metrics.CronJobMetrics
	perUser     func(ctx context.Context, userID uuid.UUID) error
}

// NewIngestionSyncJob pulls every linked channel for each user.
func NewIngestionSyncJob(params UserJobParams, svc syncer) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("ingestion service required")
	}
	return newUserJob(IngestionSyncJobName, params, func(ctx context.Context, userID uuid.UUID) error {
		report, err := svc.SyncUser(ctx, userID)
		if report != nil {
			params.Logger.Info(params.Logger.WithFields(ctx, map[string]any{
				"channels": len(report.Results),
				"skipped":  len(report.Skipped),
			}), "user sync complete")
		}
		return err
	})
}

// NewInsightsJob regenerates insights for each user with subscriptions.
func NewInsightsJob(params UserJobParams, svc insightGenerator) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("insights service required")
	}
	return newUserJob(InsightsWeeklyJobName, params, func(ctx context.Context, userID uuid.UUID) error {
		created, err := svc.GenerateInsights(ctx, userID)
		if err != nil {
			return err
		}
		params.Logger.Info(params.Logger.WithField(ctx, "insights", len(created)), "user insights generated")
		return nil
	})
}

func newUserJob(name string, params UserJobParams, perUser func(ctx context.Context, userID uuid.UUID) error) (*userJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user source required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultUserConcurrency
	}
	return &userJob{
		name:        name,
		logg:        params.Logger,
		users:       params.Users,
		every:       params.Every,
		concurrency: concurrency,
		metrics:     params.Metrics,
		perUser:     perUser,
	}, nil
}

func (j *userJob) Name() string { return j.name }

func (j *userJob) Every() time.Duration { return j.every }

// Run visits every user; one user's failure never stops the others.
func (j *userJob) Run(ctx context.Context) error {
	userIDs, err := j.users.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(j.concurrency)
	for _, userID := range userIDs {
		group.Go(func() error {
			userCtx := j.logg.WithUserID(groupCtx, userID.String())
			err := j.perUser(userCtx, userID)
			switch {
			case err == nil:
			case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
				j.logg.Warn(userCtx, "user busy; skipping")
			default:
				j.logg.Error(j.logg.WithField(userCtx, "retryable", pkgerrors.Retryable(err)), "user run failed", err)
				j.metrics.IncUserFailure(j.name)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", userID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}
