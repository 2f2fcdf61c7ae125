package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/ledgerswap/service/config"
	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	natspkg "github.com/brojonat/ledgerswap/service/nats"
	"github.com/brojonat/ledgerswap/service/reconcile"
	"github.com/brojonat/ledgerswap/service/temporal"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)
	if cfg.ReconcileMode != config.ReconcileModeTemporal {
		logger.Warn("RECONCILE_MODE is not temporal; make sure no server runs the local loop against the same database",
			"reconcile_mode", cfg.ReconcileMode,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	store := db.NewStore(dbPool, metricsCollector)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	sourceWallet := ledger.Dial(cfg.SourceWalletRPCURL, "source_wallet", cfg.GatewayTimeout, metricsCollector, logger)
	targetWallet := ledger.Dial(cfg.TargetWalletRPCURL, "target_wallet", cfg.GatewayTimeout, metricsCollector, logger)
	defer sourceWallet.Close()
	defer targetWallet.Close()

	var events natspkg.Publisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher, swap events disabled", "error", err)
		} else {
			events = publisher
			defer publisher.Close()
			logger.Info("connected to NATS", "url", cfg.NATSURL)
		}
	}

	reconciler := reconcile.New(cfg.ReconcileConfig(), store, sourceWallet, targetWallet, events,
		metricsCollector, logger.With("component", "reconciler"))

	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := ensureReconcileSchedule(ctx, temporalClient, cfg.TickPeriod, cfg.TickInitialDelay, 2*time.Second, logger); err != nil {
		logger.Error("failed to set up reconcile schedule", "error", err)
		os.Exit(1)
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		Client:     temporalClient,
		Reconciler: reconciler,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"source_wallet", cfg.SourceWalletRPCURL,
		"target_wallet", cfg.TargetWalletRPCURL,
		"nats_enabled", events != nil,
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(runCtx); err != nil {
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
