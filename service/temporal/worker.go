package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/worker"
)

// WorkerConfig wires a reconcile worker.
type WorkerConfig struct {
	// Client is an already connected Client; the worker does not close it.
	Client     *Client
	Reconciler ReconcilerInterface
	Logger     *slog.Logger
}

// Worker polls the reconcile task queue.
type Worker struct {
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker registers ReconcileWorkflow and its activities on the client's task queue.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Client == nil {
		return nil, errors.New("temporal client is required")
	}
	if cfg.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "temporal_worker", "task_queue", cfg.Client.taskQueue)

	// One activity at a time keeps payouts sequential even if two runs race.
	w := worker.New(cfg.Client.client, cfg.Client.taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(ReconcileWorkflow)

	acts := NewActivities(cfg.Reconciler, logger)
	for _, fn := range []interface{}{
		acts.RefreshConfirmations,
		acts.ListEligibleSwaps,
		acts.PayoutSwap,
		acts.MarkSwapProcessed,
	} {
		w.RegisterActivity(fn)
	}

	return &Worker{worker: w, logger: logger}, nil
}

// Run polls until ctx is cancelled, then stops the worker. In-flight
// activities get the SDK's stop timeout to finish.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start temporal worker: %w", err)
	}
	w.logger.Info("temporal worker polling")

	<-ctx.Done()

	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	return nil
}
