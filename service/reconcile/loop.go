package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Ticker runs one reconciliation pass.
type Ticker interface {
	Tick(ctx context.Context) TickResult
}

// Loop drives a Ticker in-process: one tick after initialDelay, then one
// every period. A tick always runs to completion before the next is
// considered; periods that elapse during a long tick are dropped.
type Loop struct {
	ticker       Ticker
	initialDelay time.Duration
	period       time.Duration
	logger       *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewLoop creates a new Loop.
func NewLoop(t Ticker, initialDelay, period time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		ticker:       t,
		initialDelay: initialDelay,
		period:       period,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called. Stop lets an
// in-flight tick finish; cancelling ctx aborts it.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	l.logger.Info("reconcile loop started",
		"initial_delay", l.initialDelay,
		"period", l.period,
	)

	timer := time.NewTimer(l.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconcile loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-l.stop:
			l.logger.Info("reconcile loop stopped", "reason", "stop requested")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		l.ticker.Tick(ctx)
		timer.Reset(l.nextWait(time.Since(start)))
	}
}

// nextWait aligns the next tick to the period grid that started with the
// last tick, skipping any periods the tick overran.
func (l *Loop) nextWait(elapsed time.Duration) time.Duration {
	if l.period <= 0 {
		return time.Second
	}
	return l.period - elapsed%l.period
}

// Stop asks Run to return after the in-flight tick, if any, and waits for it
// until ctx is done.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("reconcile loop did not drain in time"), ctx.Err())
	}
}
