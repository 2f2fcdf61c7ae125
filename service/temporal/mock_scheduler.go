package temporal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu           sync.Mutex
	exists       bool
	period       time.Duration
	initialDelay time.Duration
	triggers     int
	upsertErr    error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertReconcileSchedule records the schedule. The initial delay only
// applies on creation, as with Temporal.
func (m *MockScheduler) UpsertReconcileSchedule(ctx context.Context, period, initialDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	if !m.exists {
		m.initialDelay = initialDelay
	}
	m.exists = true
	m.period = period
	return nil
}

// DeleteReconcileSchedule removes the schedule.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return errors.New("schedule not found")
	}
	m.exists = false
	return nil
}

// TriggerReconcile counts a manual run.
func (m *MockScheduler) TriggerReconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return errors.New("schedule not found")
	}
	m.triggers++
	return nil
}

// SetUpsertError makes UpsertReconcileSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// Schedule returns the recorded period and initial delay, and whether the
// schedule exists.
func (m *MockScheduler) Schedule() (period, initialDelay time.Duration, exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period, m.initialDelay, m.exists
}

// Triggers returns how many manual runs were requested.
func (m *MockScheduler) Triggers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers
}
