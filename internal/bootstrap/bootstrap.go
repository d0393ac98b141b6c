// Package bootstrap builds the service graph shared by the API server and the cron worker.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/subradar/subradar-backend/internal/credentials"
	"github.com/subradar/subradar-backend/internal/ingestion"
	"github.com/subradar/subradar-backend/internal/insights"
	"github.com/subradar/subradar-backend/internal/notifications"
	"github.com/subradar/subradar-backend/internal/scoring"
	"github.com/subradar/subradar-backend/internal/subscriptions"
	"github.com/subradar/subradar-backend/internal/usage"
	"github.com/subradar/subradar-backend/internal/userlock"
	"github.com/subradar/subradar-backend/pkg/bigquery"
	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db"
	"github.com/subradar/subradar-backend/pkg/enums"
	"github.com/subradar/subradar-backend/pkg/gmail"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
	"github.com/subradar/subradar-backend/pkg/plaid"
	"github.com/subradar/subradar-backend/pkg/pubsub"
	"github.com/subradar/subradar-backend/pkg/redis"
	"github.com/subradar/subradar-backend/pkg/security"
	"github.com/subradar/subradar-backend/pkg/storage/gcs"
	"github.com/subradar/subradar-backend/pkg/usageapi"
	"github.com/subradar/subradar-backend/pkg/vision"
)

const providerHTTPTimeout = 30 * time.Second

// Params carries the already-connected core clients.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

// Services is every core service plus the optional clients behind them.
type Services struct {
	Scoring       *scoring.Engine
	Subscriptions subscriptions.Service
	Usage         usage.Service
	Credentials   credentials.Service
	Ingestion     ingestion.Service
	Insights      insights.Service
	Pipeline      *metrics.PipelineMetrics

	PubSub   *pubsub.Client
	BigQuery *bigquery.Client
	GCS      *gcs.Client

	closers []func() error
}

// Close releases the optional clients opened by Build.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	return errs
}

// Build wires every service. Optional integrations that are not configured are
// left out and logged; a configured integration that fails to start is an error.
func Build(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, errors.New("config, logger and database are required")
	}
	cfg, logg := p.Config, p.Logger
	conn := p.DB.DB()
	out := &Services{Pipeline: metrics.NewPipelineMetrics(p.Registry)}

	var locker userlock.Locker = userlock.Noop{}
	if p.Redis != nil {
		redisLocker, err := userlock.NewRedisLocker(p.Redis, cfg.Cron.UserLockTTL)
		if err != nil {
			return nil, err
		}
		locker = redisLocker
	}

	model, err := scoring.ModelFromConfig(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	out.Scoring, err = scoring.NewEngine(scoring.EngineParams{DB: conn, Model: model, Logger: logg})
	if err != nil {
		return nil, err
	}

	strategy, err := subscriptions.ParsePrimaryStrategy(cfg.Merge.PrimaryStrategy)
	if err != nil {
		return nil, err
	}
	out.Subscriptions, err = subscriptions.NewService(subscriptions.ServiceParams{
		Repo:     subscriptions.NewRepository(conn),
		Tx:       p.DB,
		Scorer:   out.Scoring,
		Strategy: strategy,
		Locker:   locker,
		Metrics:  out.Pipeline,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	out.Usage, err = usage.NewService(usage.ServiceParams{
		Repo:   usage.NewRepository(conn, p.DB.IsPostgres()),
		Tx:     p.DB,
		Scorer: out.Scoring,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	sealer, err := security.NewSealer(cfg.Crypto)
	if err != nil {
		return nil, err
	}
	out.Credentials, err = credentials.NewService(credentials.ServiceParams{
		Repo:   credentials.NewRepository(conn),
		Sealer: sealer,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	sources, err := out.buildSources(ctx, cfg, logg)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Ingestion, err = ingestion.NewService(ingestion.ServiceParams{
		Sources:       sources,
		Subscriptions: out.Subscriptions,
		Usage:         out.Usage,
		Locker:        locker,
		Metrics:       out.Pipeline,
		Logger:        logg,
		FetchTimeout:  cfg.Ingestion.FetchTimeout,
		SyncProviders: []enums.CredentialProvider{enums.CredentialProviderOpenAI, enums.CredentialProviderAnthropic},
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	sender, exporter, err := out.buildDelivery(ctx, cfg, logg, p.DB)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Insights, err = insights.NewService(insights.ServiceParams{
		Repo:          insights.NewRepository(conn),
		Subscriptions: out.Subscriptions,
		Scorer:        out.Scoring,
		Sender:        sender,
		Exporter:      exporter,
		Locker:        locker,
		Metrics:       out.Pipeline,
		Logger:        logg,
		AIKeywords:    cfg.Insights.AIKeywords,
		DedupeWindow:  cfg.Insights.DedupeWindow,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

func (s *Services) buildSources(ctx context.Context, cfg *config.Config, logg *logger.Logger) ([]ingestion.EvidenceSource, error) {
	httpClient := &http.Client{Timeout: providerHTTPTimeout}
	sources := []ingestion.EvidenceSource{
		&ingestion.MailboxSource{
			Credentials: s.Credentials,
			Client:      gmail.NewClient(cfg.Gmail),
			Extractor: ingestion.MailboxExtractor{
				SenderPatterns: cfg.Ingestion.SenderPatterns,
				SenderDomains:  cfg.Ingestion.SenderDomains,
			},
			Query: cfg.Ingestion.MailboxQuery,
			Max:   cfg.Ingestion.MailboxMax,
		},
		&ingestion.APIUsageSource{
			Credentials: s.Credentials,
			Client:      usageapi.NewClient(cfg.UsageAPIs, httpClient),
			Lookback:    cfg.Ingestion.UsageLookback,
		},
	}

	if strings.TrimSpace(cfg.Plaid.ClientID) != "" {
		plaidClient, err := plaid.NewClient(ctx, cfg.Plaid, httpClient, logg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, &ingestion.BankSource{
			Credentials: s.Credentials,
			Client:      plaidClient,
			Extractor:   ingestion.BankExtractor{Keywords: cfg.Ingestion.BankKeywords},
			Lookback:    cfg.Ingestion.BankLookback,
		})
	} else {
		logg.Warn(ctx, "plaid not configured; bank channel disabled")
	}

	receipts := &ingestion.ReceiptSource{}
	if strings.TrimSpace(cfg.GCP.ProjectID) != "" {
		ocr, err := vision.NewClient(ctx, cfg.Vision, cfg.GCP)
		if err != nil {
			return nil, err
		}
		receipts.OCR = ocr
	} else {
		logg.Warn(ctx, "gcp project not configured; receipt OCR disabled, text receipts only")
	}
	if cfg.GCS.Enabled() {
		gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, err
		}
		s.GCS = gcsClient
		s.closers = append(s.closers, gcsClient.Close)
		receipts.Store = gcsClient
	}
	sources = append(sources, receipts)
	return sources, nil
}

func (s *Services) buildDelivery(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (notifications.Sender, insights.Exporter, error) {
	var senders []notifications.Sender

	if cfg.SMTP.Enabled() {
		smtpSender, err := notifications.NewSMTPSender(cfg.SMTP, notifications.NewUserDirectory(dbClient.DB()), logg)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, smtpSender)
	}

	projectConfigured := strings.TrimSpace(cfg.GCP.ProjectID) != ""
	if projectConfigured && strings.TrimSpace(cfg.PubSub.InsightsTopic) != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		s.PubSub = psClient
		s.closers = append(s.closers, psClient.Close)
		psSender, err := notifications.NewPubSubSender(psClient.InsightsPublisher(), logg)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, psSender)
	}
	if len(senders) == 0 {
		logg.Warn(ctx, "no notification channel configured; insight summaries will not be delivered")
	}

	var exporter insights.Exporter
	if projectConfigured && strings.TrimSpace(cfg.BigQuery.Dataset) != "" {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return nil, nil, err
		}
		s.BigQuery = bqClient
		s.closers = append(s.closers, bqClient.Close)
		def, err := insights.InsightTable(cfg.BigQuery.InsightsTable)
		if err != nil {
			return nil, nil, err
		}
		if err := bqClient.EnsureTable(ctx, def); err != nil {
			return nil, nil, err
		}
		bqExporter, err := insights.NewBigQueryExporter(bqClient, cfg.BigQuery.InsightsTable, insights.RetryPolicy{})
		if err != nil {
			return nil, nil, err
		}
		exporter = bqExporter
	}

	return notifications.Combine(senders...), exporter, nil
}
