package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftwatch/swiftwatch-backend/api/controllers"
	webhookcontrollers "github.com/swiftwatch/swiftwatch-backend/api/controllers/webhooks"
	"github.com/swiftwatch/swiftwatch-backend/api/middleware"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/internal/plans"
	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/internal/warnings"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
	"github.com/swiftwatch/swiftwatch-backend/pkg/redis"
)

// NewRouter wires the HTTP surface: provider webhooks stay public behind
// their own signature checks, everything else sits behind JWT auth.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	auditRecorder *audit.Recorder,
	eventStore *events.Store,
	reconcilerSvc *reconciler.Service,
	warningsSvc *warnings.Service,
	subscriptionsSvc *subscriptions.Service,
	meteringSvc *metering.Service,
	plansSvc *plans.Service,
	webhookMetrics *metrics.WebhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// A nil *redis.Client wrapped in the Pinger interface would not compare
	// equal to nil inside the handler, so the conversion happens here.
	var cachePinger controllers.Pinger
	if redisClient != nil {
		cachePinger = redisClient
	}
	var planCatalog controllers.PlanCatalog
	if plansSvc != nil {
		planCatalog = plansSvc
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cachePinger, logg))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/api/v1/plans", controllers.PlansList(planCatalog, logg))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(cfg.Stripe, eventStore, reconcilerSvc, auditRecorder, webhookMetrics, logg))
		r.Post("/github", webhookcontrollers.GitHubWebhook(cfg.Marketplace, eventStore, reconcilerSvc, auditRecorder, webhookMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(middleware.IngestRateLimit(cfg.IngestLimits, redisClient, logg)).
			Post("/runs", controllers.RunsIngest(warningsSvc, logg))
		r.Get("/runs", controllers.RunsList(warningsSvc, logg))
		r.Get("/runs/summary", controllers.RunsSummary(warningsSvc, logg))
		r.Get("/runs/{runId}", controllers.RunsGet(warningsSvc, logg))

		r.Get("/usage", controllers.UsageShow(subscriptionsSvc, meteringSvc, logg))
		r.Get("/plan", controllers.PlanShow(subscriptionsSvc, planCatalog, logg))
	})

	return r
}
