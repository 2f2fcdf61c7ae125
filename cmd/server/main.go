package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/brojonat/ledgerswap/service/config"
	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	natspkg "github.com/brojonat/ledgerswap/service/nats"
	"github.com/brojonat/ledgerswap/service/reconcile"
	"github.com/brojonat/ledgerswap/service/server"
	"github.com/brojonat/ledgerswap/service/swap"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"reconcile_mode", cfg.ReconcileMode,
	)

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
	if err := db.RunMigrations(ctx, dbPool); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	store := db.NewStore(dbPool, metricsCollector)

	daemon := ledger.Dial(cfg.SourceDaemonRPCURL, "source_daemon", cfg.GatewayTimeout, metricsCollector, logger)
	sourceWallet := ledger.Dial(cfg.SourceWalletRPCURL, "source_wallet", cfg.GatewayTimeout, metricsCollector, logger)
	targetWallet := ledger.Dial(cfg.TargetWalletRPCURL, "target_wallet", cfg.GatewayTimeout, metricsCollector, logger)
	defer daemon.Close()
	defer sourceWallet.Close()
	defer targetWallet.Close()

	// Events are optional and best effort.
	var events natspkg.Publisher
	var stream *server.EventStream
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher, swap events disabled", "error", err)
		} else {
			events = publisher
			defer publisher.Close()
			logger.Info("connected to NATS", "url", cfg.NATSURL)

			if stream, err = server.NewEventStream(cfg.NATSURL, logger); err != nil {
				logger.Error("failed to create SSE event stream", "error", err)
				stream = nil
			}
		}
	} else {
		logger.Info("NATS_URL not set, swap events disabled")
	}

	intake := swap.NewIntake(cfg.SwapParams(), sourceWallet, store, events, metricsCollector, logger.With("component", "intake"))

	httpServer := server.New(cfg.ServerAddr, intake, daemon, store, metricsCollector, logger)
	if stream != nil {
		httpServer.WithEventStream(stream)
	}

	// In temporal mode the worker owns reconciliation.
	var loop *reconcile.Loop
	if cfg.ReconcileMode == config.ReconcileModeLocal {
		reconciler := reconcile.New(cfg.ReconcileConfig(), store, sourceWallet, targetWallet, events,
			metricsCollector, logger.With("component", "reconciler"))
		loop = reconcile.NewLoop(reconciler, cfg.TickInitialDelay, cfg.TickPeriod, logger.With("component", "reconcile_loop"))
		go loop.Run(ctx)
	}

	logger.Info("server initialized, all dependencies ready",
		"source_daemon", cfg.SourceDaemonRPCURL,
		"source_wallet", cfg.SourceWalletRPCURL,
		"target_wallet", cfg.TargetWalletRPCURL,
		"nats_enabled", events != nil,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		var stopper loopStopper
		if loop != nil {
			stopper = loop
		}
		if err := gracefulShutdown(logger, httpServer, stopper, shutdownTimeout); err != nil {
			return
		}

		logger.Info("server shutdown complete")
	}
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
