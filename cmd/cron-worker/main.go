package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subradar/subradar-backend/internal/bootstrap"
	"github.com/subradar/subradar-backend/internal/cron"
	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db"
	"github.com/subradar/subradar-backend/pkg/instance"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
	"github.com/subradar/subradar-backend/pkg/migrate"
	"github.com/subradar/subradar-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	only := flag.String("job", "", "run only this job once and exit (ingestion-sync|insights-weekly)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := bootstrap.Build(context.Background(), bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logg.Error(context.Background(), "error closing service clients", err)
		}
	}()

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := buildRegistry(cfg, logg, dbClient, services, jobMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	ledger, err := cron.NewRedisLedger(redisClient, redisClient.CronLastRunKey)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron ledger", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Ledger:   ledger,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	if *only != "" {
		logg.Info(logg.WithField(ctx, "job", *only), "running single cron job")
		if err := service.RunJob(ctx, *only); err != nil {
			logg.Error(ctx, "cron job failed", err)
			os.Exit(1)
		}
		return
	}

	if *once {
		logg.Info(ctx, "running cron jobs once")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services, jobMetrics *metrics.CronJobMetrics) (*cron.Registry, error) {
	syncJob, err := cron.NewIngestionSyncJob(cron.UserJobParams{
		Logger:      logg,
		Users:       cron.UsersWithCredentials(dbClient.DB()),
		Every:       cfg.Cron.IngestEvery,
		Concurrency: cfg.Cron.UserConcurrency,
		Metrics:     jobMetrics,
	}, services.Ingestion)
	if err != nil {
		return nil, err
	}
	insightsJob, err := cron.NewInsightsJob(cron.UserJobParams{
		Logger:      logg,
		Users:       cron.UsersWithSubscriptions(dbClient.DB()),
		Every:       cfg.Cron.InsightsEvery,
		Concurrency: cfg.Cron.UserConcurrency,
		Metrics:     jobMetrics,
	}, services.Insights)
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(syncJob, insightsJob)
}
