package main

import (
	"context"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

type loopStopper interface {
	Stop(ctx context.Context) error
}

// gracefulShutdown stops intake first, then lets an in-flight payout finish.
// Each phase gets its own timeout so a slow HTTP drain cannot starve the loop.
// loop may be nil.
func gracefulShutdown(logger *slog.Logger, srv httpShutdowner, loop loopStopper, timeout time.Duration) error {
	httpCtx, httpCancel := context.WithTimeout(context.Background(), timeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}
	httpCancel()

	if loop == nil {
		return nil
	}

	loopCtx, loopCancel := context.WithTimeout(context.Background(), timeout)
	defer loopCancel()
	if err := loop.Stop(loopCtx); err != nil {
		logger.Error("reconcile loop did not stop in time", "error", err)
		return err
	}
	return nil
}
