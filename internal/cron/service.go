package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Ledger   Ledger
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service ticks on a fixed interval and runs each registered job that is due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	ledger   Ledger
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	ledger := params.Ledger
	if ledger == nil {
		ledger = newMemoryLedger()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		ledger:   ledger,
		metrics:  params.Metrics,
		interval: interval,
		now:      now,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunOnce executes every registered job immediately, ignoring cadence.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) {
		for _, job := range s.registry.Jobs() {
			s.runJob(ctx, job)
		}
	})
}

// RunJob executes the named job immediately under the cron lock.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown cron job %q", name)
	}
	return s.withLock(ctx, func(ctx context.Context) {
		s.runJob(ctx, job)
	})
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) {
		for _, job := range s.registry.Jobs() {
			if !s.due(ctx, job) {
				continue
			}
			s.runJob(ctx, job)
		}
	})
}

func (s *Service) withLock(ctx context.Context, fn func(ctx context.Context)) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	fn(ctx)
	s.logg.Info(ctx, "scheduled run complete")
	return nil
}

func (s *Service) due(ctx context.Context, job Job) bool {
	cadenced, ok := job.(Cadenced)
	if !ok || cadenced.Every() <= 0 {
		return true
	}
	last, found, err := s.ledger.LastRun(ctx, job.Name())
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "job", job.Name()), "read job ledger", err)
		return false
	}
	return !found || s.now().Sub(last) >= cadenced.Every()
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.metrics.ObserveRun(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
	} else {
		s.logg.Info(jobCtx, "job completed")
	}
	// Failed runs still advance the ledger; per-user failures are retried next cadence.
	if markErr := s.ledger.MarkRun(ctx, job.Name(), start.UTC()); markErr != nil {
		s.logg.Error(jobCtx, "write job ledger", markErr)
	}
}
