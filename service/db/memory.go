package db

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process swap store with the same semantics as Store.
// It backs unit tests of the intake, reconciler and HTTP layers.
type MemoryStore struct {
	mu    sync.Mutex
	swaps map[string]*Swap
	seq   map[string]int64
	next  int64
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		swaps: make(map[string]*Swap),
		seq:   make(map[string]int64),
		now:   time.Now,
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// FindByTxid returns a copy of the stored swap, or ErrNotFound.
func (m *MemoryStore) FindByTxid(ctx context.Context, txid string) (*Swap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.swaps[txid]
	if !ok {
		return nil, ErrNotFound
	}
	return copySwap(sw), nil
}

// GetSwap is FindByTxid.
func (m *MemoryStore) GetSwap(ctx context.Context, txid string) (*Swap, error) {
	return m.FindByTxid(ctx, txid)
}

// InsertPending stores a Pending swap or returns ErrDuplicateKey.
func (m *MemoryStore) InsertPending(ctx context.Context, p InsertPendingParams) (*Swap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.swaps[p.Txid]; ok {
		return nil, ErrDuplicateKey
	}

	now := m.now().UTC()
	sw := &Swap{
		Txid:                            p.Txid,
		SourceAddress:                   p.SourceAddress,
		Amount:                          p.Amount,
		Confirmations:                   p.Confirmations,
		DoubleSpendSeen:                 p.DoubleSpendSeen,
		Fee:                             p.Fee,
		Height:                          p.Height,
		Note:                            p.Note,
		PaymentID:                       p.PaymentID,
		SubaddrIndex:                    p.SubaddrIndex,
		SuggestedConfirmationsThreshold: p.SuggestedConfirmationsThreshold,
		Timestamp:                       p.Timestamp,
		Type:                            p.Type,
		UnlockTime:                      p.UnlockTime,
		TargetAddress:                   p.TargetAddress,
		TargetAmount:                    p.TargetAmount,
		Status:                          StatusPending,
		CreatedAt:                       now,
		UpdatedAt:                       now,
	}
	m.swaps[p.Txid] = sw
	m.next++
	m.seq[p.Txid] = m.next
	return copySwap(sw), nil
}

// ListPendingConfirmed returns Pending swaps above threshold in insertion order.
func (m *MemoryStore) ListPendingConfirmed(ctx context.Context, threshold int64) ([]*Swap, error) {
	return m.filter(func(sw *Swap) bool {
		return sw.Status == StatusPending && sw.Confirmations > threshold
	}, false), nil
}

// ListPendingUnconfirmed returns Pending swaps at or below threshold in insertion order.
func (m *MemoryStore) ListPendingUnconfirmed(ctx context.Context, threshold int64) ([]*Swap, error) {
	return m.filter(func(sw *Swap) bool {
		return sw.Status == StatusPending && sw.Confirmations <= threshold
	}, false), nil
}

// UpdateConfirmations sets confirmations on a Pending swap.
func (m *MemoryStore) UpdateConfirmations(ctx context.Context, txid string, confirmations int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sw, ok := m.swaps[txid]; ok && sw.Status == StatusPending {
		sw.Confirmations = confirmations
		sw.UpdatedAt = m.now().UTC()
	}
	return nil
}

// MarkProcessed advances a Pending swap; already Processed swaps are left as is.
func (m *MemoryStore) MarkProcessed(ctx context.Context, txid, targetTxid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.swaps[txid]
	if !ok {
		return ErrNotFound
	}
	if sw.Status != StatusPending {
		return nil
	}
	ts := at.UTC()
	sw.Status = StatusProcessed
	sw.TargetTxid = &targetTxid
	sw.TargetTimestamp = &ts
	sw.UpdatedAt = m.now().UTC()
	return nil
}

// ListSwaps returns swaps newest first.
func (m *MemoryStore) ListSwaps(ctx context.Context, p ListSwapsParams) ([]*Swap, error) {
	out := m.filter(func(sw *Swap) bool {
		return p.Status == nil || sw.Status == *p.Status
	}, true)

	limit := int(p.Limit)
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := int(p.Offset)
	if offset >= len(out) {
		return []*Swap{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many swaps are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.swaps)
}

func (m *MemoryStore) filter(keep func(*Swap) bool, newestFirst bool) []*Swap {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Swap, 0)
	for _, sw := range m.swaps {
		if keep(sw) {
			out = append(out, copySwap(sw))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return m.seq[out[i].Txid] > m.seq[out[j].Txid]
		}
		return m.seq[out[i].Txid] < m.seq[out[j].Txid]
	})
	return out
}

func copySwap(sw *Swap) *Swap {
	c := *sw
	if sw.TargetTxid != nil {
		v := *sw.TargetTxid
		c.TargetTxid = &v
	}
	if sw.TargetTimestamp != nil {
		v := *sw.TargetTimestamp
		c.TargetTimestamp = &v
	}
	return &c
}
