package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/swiftwatch/swiftwatch-backend/internal/accounts"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/internal/worker"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
	"github.com/swiftwatch/swiftwatch-backend/pkg/migrate"
	"github.com/swiftwatch/swiftwatch-backend/pkg/redis"
)

const lockKeyFormat = "billing-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "billing-worker",
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

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

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
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create metering service", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		EventStore:        eventStore,
		AccountRepo:       accounts.NewRepository(dbClient.DB()),
		SubscriptionRepo:  subscriptionRepo,
		Meterer:           meteringService,
		Auditor:           auditRecorder,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	retryJob, err := worker.NewEventRetryJob(worker.EventRetryJobParams{
		Logger:    logg,
		Events:    eventStore,
		Processor: reconcilerService,
		Batch:     cfg.Worker.RetryBatch,
		MaxAge:    cfg.Worker.RetryMaxAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event retry job", err)
		os.Exit(1)
	}

	maintenanceJob, err := worker.NewSubscriptionMaintenanceJob(worker.SubscriptionMaintenanceJobParams{
		Logger:    logg,
		Promoter:  reconcilerService,
		Finalizer: reconcilerService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create maintenance job", err)
		os.Exit(1)
	}

	registry := worker.NewRegistry(retryJob, maintenanceJob)

	if cfg.Worker.ResetEnabled {
		resetJob, err := worker.NewUsageResetJob(worker.UsageResetJobParams{
			Logger:        logg,
			Subscriptions: subscriptionRepo,
			Seeder:        meteringService,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create usage reset job", err)
			os.Exit(1)
		}
		registry.Register(resetJob)
	}

	lock, err := worker.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), cfg.Worker.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := worker.NewService(worker.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Worker.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting billing worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "billing worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "billing worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
