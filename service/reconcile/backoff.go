package reconcile

import (
	"sync"
	"time"
)

// Backoff tracks failed payouts per txid. The first failure is retried on the
// next tick; from the second consecutive failure on, retries are deferred by
// base * 2^(failures-2), capped at max. State lives in memory only; a restart
// makes every pending swap eligible again.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mu      sync.Mutex
	entries map[string]backoffEntry
}

type backoffEntry struct {
	failures int
	next     time.Time
}

// NewBackoff creates a Backoff. A zero base disables deferral.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{
		base:    base,
		max:     max,
		entries: make(map[string]backoffEntry),
	}
}

// Ready reports whether txid may be attempted at now.
func (b *Backoff) Ready(txid string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[txid]
	return !ok || !now.Before(e.next)
}

// Failure records a failed attempt and returns the delay before the next one.
func (b *Backoff) Failure(txid string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entries[txid]
	e.failures++
	delay := b.delay(e.failures)
	e.next = now.Add(delay)
	b.entries[txid] = e
	return delay
}

// Failures returns the number of consecutive failures recorded for txid.
func (b *Backoff) Failures(txid string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[txid].failures
}

// Reset forgets txid.
func (b *Backoff) Reset(txid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, txid)
}

func (b *Backoff) delay(failures int) time.Duration {
	if b.base <= 0 || failures <= 1 {
		return 0
	}
	d := b.base
	for i := 2; i < failures; i++ {
		d *= 2
		if d >= b.max || d <= 0 {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}
