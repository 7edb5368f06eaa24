package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/relay-guard/internal/adapter"
	"github.com/kursadbilgin/relay-guard/internal/audit"
	"github.com/kursadbilgin/relay-guard/internal/breaker"
	"github.com/kursadbilgin/relay-guard/internal/chaos"
	"github.com/kursadbilgin/relay-guard/internal/collector"
	"github.com/kursadbilgin/relay-guard/internal/config"
	"github.com/kursadbilgin/relay-guard/internal/dispatch"
	"github.com/kursadbilgin/relay-guard/internal/handler"
	"github.com/kursadbilgin/relay-guard/internal/health"
	"github.com/kursadbilgin/relay-guard/internal/infra/postgresql"
	"github.com/kursadbilgin/relay-guard/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/relay-guard/internal/infra/redis"
	"github.com/kursadbilgin/relay-guard/internal/observability"
	"github.com/kursadbilgin/relay-guard/internal/queue"
	"github.com/kursadbilgin/relay-guard/internal/repository"
	"github.com/kursadbilgin/relay-guard/internal/retry"
	"github.com/kursadbilgin/relay-guard/internal/slo"
	"github.com/kursadbilgin/relay-guard/internal/transport"
)

var providerNames = []string{"sendgrid", "twilio", "slack", "teams", "hubspot"}

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	dlqSink := queue.NewRabbitMQDeadLetterSink(rabbit)
	defer dlqSink.Close()

	deliveryRepo := repository.NewGormDeliveryRepo(db)
	healthRepo := repository.NewGormHealthRepo(db)
	metricsRepo := repository.NewGormMetricsRepo(db)
	sloRepo := repository.NewGormSLOTargetRepo(db)
	configRepo := repository.NewGormChannelConfigRepo(db)
	auditRepo := repository.NewGormAuditRepo(db)

	auditSink := audit.MultiSink{
		audit.NewLogSink(logger),
		audit.NewStoreSink(auditRepo, logger),
	}

	metrics := observability.NewMetrics()

	registry := adapter.NewRegistry()
	for _, name := range providerNames {
		adp, err := adapter.NewHTTPJSONAdapter(name)
		if err != nil {
			logger.Fatal("adapter initialization failed", zap.String("provider", name), zap.Error(err))
		}
		if err := registry.Register(adp); err != nil {
			logger.Fatal("adapter registration failed", zap.String("provider", name), zap.Error(err))
		}
	}

	circuitBreaker, err := breaker.New(healthRepo, auditSink, breaker.Config{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		Cooldown:          cfg.BreakerCooldown(),
		HalfOpenMaxProbes: cfg.BreakerHalfOpenMaxProbes,
	}, logger)
	if err != nil {
		logger.Fatal("breaker initialization failed", zap.Error(err))
	}
	circuitBreaker.SetMetrics(metrics)

	outcomes, err := collector.New(metricsRepo, healthRepo, logger)
	if err != nil {
		logger.Fatal("collector initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.ProviderRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	simulator := chaos.New(logger)

	sloComputer, err := slo.New(sloRepo, metricsRepo, registry, auditSink, logger)
	if err != nil {
		logger.Fatal("slo computer initialization failed", zap.Error(err))
	}

	checker, err := health.New(registry, configRepo, logger)
	if err != nil {
		logger.Fatal("health checker initialization failed", zap.Error(err))
	}

	dispatcher, err := dispatch.New(dispatch.Deps{
		Configs:    configRepo,
		Deliveries: deliveryRepo,
		Registry:   registry,
		Gate:       circuitBreaker,
		Recorder:   outcomes,
		Chaos:      simulator,
		Limiter:    limiter,
		DLQ:        dlqSink,
		Audit:      auditSink,
		Metrics:    metrics,
		Logger:     logger,
		RetryOpts: retry.Options{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
			Jitter:      true,
		},
	})
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterDispatchRoutes(app, dispatcher, deliveryRepo); err != nil {
		logger.Fatal("dispatch route registration failed", zap.Error(err))
	}
	if err := handler.RegisterOpsRoutes(app, circuitBreaker, sloComputer, checker, simulator, outcomes); err != nil {
		logger.Fatal("ops route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("relay-guard api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := outcomes.FlushAll(shutdownCtx); err != nil {
			logger.Error("metrics flush on shutdown failed", zap.Error(err))
		}
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
