package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subradar/subradar-backend/api/controllers"
	credentialcontrollers "github.com/subradar/subradar-backend/api/controllers/credentials"
	ingestioncontrollers "github.com/subradar/subradar-backend/api/controllers/ingestion"
	insightcontrollers "github.com/subradar/subradar-backend/api/controllers/insights"
	subscriptioncontrollers "github.com/subradar/subradar-backend/api/controllers/subscriptions"
	usagecontrollers "github.com/subradar/subradar-backend/api/controllers/usage"
	"github.com/subradar/subradar-backend/api/middleware"
	"github.com/subradar/subradar-backend/internal/credentials"
	"github.com/subradar/subradar-backend/internal/ingestion"
	"github.com/subradar/subradar-backend/internal/insights"
	"github.com/subradar/subradar-backend/internal/subscriptions"
	"github.com/subradar/subradar-backend/internal/usage"
	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
)

// RateLimiter backs the per-user fixed-window limits.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	registry *prometheus.Registry,
	limiter RateLimiter,
	subscriptionsService subscriptions.Service,
	scorer subscriptioncontrollers.ScoreRecomputer,
	usageService usage.Service,
	ingestionService ingestion.Service,
	insightsService insights.Service,
	credentialsService credentials.Service,
) http.Handler {
	var httpMetrics *metrics.HTTPMetrics
	if registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	apiPolicy := middleware.RateLimitPolicy{
		Name:   "api",
		Window: cfg.HTTP.RateLimitWindow,
		Limit:  cfg.HTTP.RateLimitRequests,
	}
	ingestPolicy := middleware.RateLimitPolicy{
		Name:   "ingest",
		Window: cfg.HTTP.RateLimitWindow,
		Limit:  cfg.HTTP.IngestRateLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, limiter, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.List(subscriptionsService, logg))
			r.Post("/", subscriptioncontrollers.Create(subscriptionsService, logg))
			r.Post("/merge", subscriptioncontrollers.Merge(subscriptionsService, logg))
			r.Route("/{subscriptionId}", func(r chi.Router) {
				r.Get("/", subscriptioncontrollers.Get(subscriptionsService, logg))
				r.Patch("/", subscriptioncontrollers.Update(subscriptionsService, logg))
				r.Delete("/", subscriptioncontrollers.Delete(subscriptionsService, logg))
				r.Put("/status", subscriptioncontrollers.SetStatus(subscriptionsService, logg))
				r.Post("/deactivate", subscriptioncontrollers.Deactivate(subscriptionsService, logg))
				r.Post("/score", subscriptioncontrollers.RecomputeScore(subscriptionsService, scorer, logg))
				r.Get("/usage", usagecontrollers.GetForSubscription(usageService, logg))
				r.Post("/login", usagecontrollers.RecordLogin(usageService, logg))
			})
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", usagecontrollers.List(usageService, logg))
			r.Put("/", usagecontrollers.Upsert(usageService, logg))
			r.Delete("/{usageId}", usagecontrollers.Delete(usageService, logg))
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Use(middleware.RateLimit(ingestPolicy, limiter, logg))
			r.Post("/", ingestioncontrollers.Ingest(ingestionService, logg))
			r.Post("/receipts", ingestioncontrollers.UploadReceipt(ingestionService, cfg.HTTP.MaxUploadBytes, logg))
		})

		r.Route("/insights", func(r chi.Router) {
			r.Get("/", insightcontrollers.List(insightsService, logg))
			r.Post("/generate", insightcontrollers.Generate(insightsService, logg))
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", credentialcontrollers.List(credentialsService, logg))
			r.Put("/{provider}", credentialcontrollers.Save(credentialsService, logg))
			r.Delete("/{provider}", credentialcontrollers.Delete(credentialsService, logg))
		})
	})

	return r
}
