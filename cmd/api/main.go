package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/swiftwatch/swiftwatch-backend/api/routes"
	"github.com/swiftwatch/swiftwatch-backend/internal/accounts"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/internal/plans"
	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/internal/warnings"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
	"github.com/swiftwatch/swiftwatch-backend/pkg/migrate"
	"github.com/swiftwatch/swiftwatch-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)
	meteringMetrics := metrics.NewMeteringMetrics(prometheus.DefaultRegisterer)

	auditRecorder, err := audit.NewRecorder(audit.RecorderParams{
		Repo:   audit.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	auditRecorder.Start(context.Background())
	defer auditRecorder.Close()

	eventStore, err := events.NewStore(events.StoreParams{
		Repo: events.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event store", err)
		os.Exit(1)
	}

	meteringService, err := metering.NewService(metering.ServiceParams{
		Repo:              metering.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Metrics:           meteringMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create metering service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		AccountRepo:       accounts.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		EventStore:        eventStore,
		AccountRepo:       accounts.NewRepository(dbClient.DB()),
		SubscriptionRepo:  subscriptions.NewRepository(dbClient.DB()),
		Meterer:           meteringService,
		Auditor:           auditRecorder,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           webhookMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	plansService, err := plans.NewService(plans.ServiceParams{
		Repo: plans.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	warningsService, err := warnings.NewService(warnings.ServiceParams{
		Repo:              warnings.NewRepository(dbClient.DB()),
		Subscriptions:     subscriptionsService,
		Meterer:           meteringService,
		Auditor:           auditRecorder,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create warnings service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			auditRecorder,
			eventStore,
			reconcilerService,
			warningsService,
			subscriptionsService,
			meteringService,
			plansService,
			webhookMetrics,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
