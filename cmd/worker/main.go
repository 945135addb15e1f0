package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/locks"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	registry := prometheus.NewRegistry()
	saga := metrics.NewSagaMetrics(registry)

	lockManager, err := locks.NewManager(redisClient, cfg.Lock.RetryInterval)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock manager", err)
		os.Exit(1)
	}

	idempotencyGuard, err := idempotency.NewManager(redisClient, cfg.Consumer.ProcessedTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	eventDLQ := outbox.NewEventDLQRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())

	ordersService, err := orders.NewService(ordersRepo, dbClient, outboxService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		payments.NewRepository(dbClient.DB()),
		payments.SimulatedGateway{Latency: cfg.Payments.CaptureLatency},
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(
		inventory.NewRepository(dbClient.DB()),
		ordersRepo,
		dbClient,
		lockManager,
		cfg.Lock,
		logg,
		saga,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	paymentsSub := pubsubClient.PaymentsSubscription()
	if paymentsSub != nil {
		applyReceiveSettings(paymentsSub, cfg.Consumer)
	}
	inventorySub := pubsubClient.InventorySubscription()
	if inventorySub != nil {
		applyReceiveSettings(inventorySub, cfg.Consumer)
	}

	paymentsConsumer, err := payments.NewConsumer(
		paymentsService,
		paymentsSub,
		cfg.PubSub.PaymentsSubscription,
		eventDLQ,
		idempotencyGuard,
		logg,
		saga,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments consumer", err)
		os.Exit(1)
	}

	inventoryConsumer, err := inventory.NewConsumer(
		inventoryService,
		ordersService,
		inventorySub,
		cfg.PubSub.InventorySubscription,
		eventDLQ,
		idempotencyGuard,
		logg,
		saga,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:            cfg,
		Logger:            logg,
		DB:                dbClient,
		Redis:             redisClient,
		PubSub:            pubsubClient,
		PaymentsConsumer:  paymentsConsumer,
		InventoryConsumer: inventoryConsumer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting worker")

	metricsServer := startMetricsServer(ctx, cfg, logg, registry)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func applyReceiveSettings(sub *gcppubsub.Subscriber, cfg config.ConsumerConfig) {
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}
}

// startMetricsServer exposes /metrics and a liveness probe for the worker,
// which otherwise has no HTTP surface.
func startMetricsServer(ctx context.Context, cfg *config.Config, logg *logger.Logger, registry *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "worker metrics server stopped unexpectedly", err)
		}
	}()
	return server
}
