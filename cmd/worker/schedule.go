package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerswap/service/temporal"
)

const scheduleAttempts = 5

// ensureReconcileSchedule upserts the reconcile schedule, retrying while the
// Temporal frontend comes up.
func ensureReconcileSchedule(ctx context.Context, s temporal.Scheduler, period, initialDelay, retryWait time.Duration, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= scheduleAttempts; attempt++ {
		if err = s.UpsertReconcileSchedule(ctx, period, initialDelay); err == nil {
			logger.Info("reconcile schedule ready",
				"schedule_id", temporal.ReconcileScheduleID,
				"period", period,
				"initial_delay", initialDelay,
			)
			return nil
		}

		logger.Warn("failed to upsert reconcile schedule",
			"attempt", attempt,
			"error", err,
		)
		if attempt == scheduleAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryWait * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to upsert reconcile schedule after %d attempts: %w", scheduleAttempts, err)
}
