package temporal

import (
	"context"
	"time"
)

// ReconcileScheduleID is the Temporal schedule that runs ReconcileWorkflow.
const ReconcileScheduleID = "reconcile-swaps"

// Scheduler manages the reconcile schedule.
type Scheduler interface {
	// UpsertReconcileSchedule creates the schedule, or updates its period if
	// it exists. The first run starts after initialDelay.
	UpsertReconcileSchedule(ctx context.Context, period, initialDelay time.Duration) error

	// DeleteReconcileSchedule deletes the schedule. In-flight runs finish.
	DeleteReconcileSchedule(ctx context.Context) error

	// TriggerReconcile starts a run now unless one is already running.
	TriggerReconcile(ctx context.Context) error
}
