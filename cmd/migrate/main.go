package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/brojonat/ledgerswap/service/db"
)

// migrate applies the embedded schema migrations and reports what the swaps
// table holds afterwards. Only DATABASE_URL is required, so it can run before
// the rest of the service is configured.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting schema migration")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbPool, err := pgxpool.New(ctx, dbURL)
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

	files, err := db.Migrations()
	if err != nil {
		logger.Error("failed to read migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("embedded migrations", "files", files)

	if err := db.RunMigrations(ctx, dbPool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	applied, err := db.AppliedMigrations(ctx, dbPool)
	if err != nil {
		logger.Error("failed to read applied migrations", "error", err)
		os.Exit(1)
	}

	rows, err := dbPool.Query(ctx, "SELECT status, COUNT(*) FROM swaps GROUP BY status ORDER BY status")
	if err != nil {
		logger.Error("failed to count swaps", "error", err)
		os.Exit(1)
	}
	defer rows.Close()

	for rows.Next() {
		var status int16
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			logger.Error("failed to scan swap count", "error", err)
			os.Exit(1)
		}
		logger.Info("swaps", "status", db.Status(status).String(), "count", count)
	}
	if err := rows.Err(); err != nil {
		logger.Error("error iterating swap counts", "error", err)
		os.Exit(1)
	}

	logger.Info("migration complete", "applied", applied)
}
