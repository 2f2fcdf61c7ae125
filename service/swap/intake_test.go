package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/brojonat/ledgerswap/service/nats"
)

// fakeSource serves transfers from a map.
type fakeSource struct {
	mu        sync.Mutex
	transfers map[string]*ledger.Transfer
	err       error
	calls     int
}

func (f *fakeSource) GetTransferByTxid(ctx context.Context, txid string) (*ledger.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.transfers[txid]
	if !ok {
		return nil, ledger.ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func incoming(txid string, amount uint64) *ledger.Transfer {
	return &ledger.Transfer{
		Txid:                            txid,
		Address:                         "EVo1source",
		Amount:                          amount,
		Confirmations:                   0,
		Fee:                             12_000,
		PaymentID:                       "0000000000000000",
		SubaddrIndex:                    ledger.SubaddrIndex{Major: 0, Minor: 3},
		SuggestedConfirmationsThreshold: 1,
		Timestamp:                       1_620_000_000,
		Type:                            "pool",
	}
}

type intakeFixture struct {
	intake *Intake
	source *fakeSource
	store  *db.MemoryStore
	events *nats.MockPublisher
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()
	source := &fakeSource{transfers: map[string]*ledger.Transfer{
		"abc123xyz9": incoming("abc123xyz9", 5_000_000_000),
	}}
	store := db.NewMemoryStore()
	events := nats.NewMockPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	return &intakeFixture{
		intake: NewIntake(testParams(), source, store, events, m, logger),
		source: source,
		store:  store,
		events: events,
	}
}

func TestIntake_Submit_Accepted(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	sw, err := f.intake.Submit(ctx, "abc123xyz9", "SW1aaaaaaaaa")
	require.NoError(t, err)

	assert.Equal(t, "abc123xyz9", sw.Txid)
	assert.Equal(t, db.StatusPending, sw.Status)
	assert.Equal(t, int64(5_000_000_000), sw.Amount)
	assert.Equal(t, int64(500_000_000_000), sw.TargetAmount)
	assert.Equal(t, "SW1aaaaaaaaa", sw.TargetAddress)
	assert.Equal(t, "pool", sw.Type)
	assert.Equal(t, db.SubaddrIndex{Major: 0, Minor: 3}, sw.SubaddrIndex)
	assert.Nil(t, sw.TargetTxid)

	stored, err := f.store.FindByTxid(ctx, "abc123xyz9")
	require.NoError(t, err)
	assert.Equal(t, sw.TargetAmount, stored.TargetAmount)

	accepted := f.events.GetEventsOfType(nats.EventAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "abc123xyz9", accepted[0].Txid)
}

func TestIntake_Submit_DuplicateIsRejected(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	_, err := f.intake.Submit(ctx, "abc123xyz9", "SW1aaaaaaaaa")
	require.NoError(t, err)

	_, err = f.intake.Submit(ctx, "abc123xyz9", "SW1bbbbbbbbb")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, f.store.Len())

	stored, err := f.store.FindByTxid(ctx, "abc123xyz9")
	require.NoError(t, err)
	assert.Equal(t, "SW1aaaaaaaaa", stored.TargetAddress, "first submission wins")
	assert.Len(t, f.events.GetPublishedEvents(), 1)
}

func TestIntake_Submit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		txid    string
		address string
		setup   func(f *intakeFixture)
		want    error
	}{
		{
			name:    "invalid address",
			txid:    "abc123xyz9",
			address: "XX1aaaaaaaaa",
			want:    ErrValidation,
		},
		{
			name:    "unknown transfer",
			txid:    "zzz999zzz9",
			address: "SW1aaaaaaaaa",
			want:    ErrNotFound,
		},
		{
			name:    "wallet unreachable",
			txid:    "abc123xyz9",
			address: "SW1aaaaaaaaa",
			setup:   func(f *intakeFixture) { f.source.err = errors.New("connection refused") },
			want:    ErrNotFound,
		},
		{
			name:    "outgoing transfer",
			txid:    "out123out9",
			address: "SW1aaaaaaaaa",
			setup: func(f *intakeFixture) {
				tr := incoming("out123out9", 1_000_000_000)
				tr.Type = "out"
				f.source.transfers["out123out9"] = tr
			},
			want: ErrNotFound,
		},
		{
			name:    "amount out of range",
			txid:    "big123big9",
			address: "SW1aaaaaaaaa",
			setup: func(f *intakeFixture) {
				f.source.transfers["big123big9"] = incoming("big123big9", 1<<63)
			},
			want: ErrConversion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIntakeFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			sw, err := f.intake.Submit(context.Background(), tt.txid, tt.address)
			require.Error(t, err)
			assert.Nil(t, sw)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.store.Len(), "nothing is stored on rejection")
			assert.Empty(t, f.events.GetPublishedEvents())
		})
	}
}

func TestIntake_Submit_ValidationSkipsLookup(t *testing.T) {
	f := newIntakeFixture(t)

	_, err := f.intake.Submit(context.Background(), "short", "SW1aaaaaaaaa")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.source.calls)
}

// racingStore loses the insert race: the lookup sees nothing but the insert
// hits the unique key.
type racingStore struct {
	*db.MemoryStore
}

func (r racingStore) FindByTxid(ctx context.Context, txid string) (*db.Swap, error) {
	return nil, db.ErrNotFound
}

func (r racingStore) InsertPending(ctx context.Context, p db.InsertPendingParams) (*db.Swap, error) {
	return nil, fmt.Errorf("insert: %w", db.ErrDuplicateKey)
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) FindByTxid(ctx context.Context, txid string) (*db.Swap, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) InsertPending(ctx context.Context, p db.InsertPendingParams) (*db.Swap, error) {
	return nil, errors.New("connection reset")
}

// insertFailsStore finds nothing and fails the insert.
type insertFailsStore struct{}

func (insertFailsStore) FindByTxid(ctx context.Context, txid string) (*db.Swap, error) {
	return nil, db.ErrNotFound
}

func (insertFailsStore) InsertPending(ctx context.Context, p db.InsertPendingParams) (*db.Swap, error) {
	return nil, errors.New("disk full")
}

func TestIntake_Submit_StoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		store Store
		want  error
	}{
		{name: "lost insert race", store: racingStore{db.NewMemoryStore()}, want: ErrDuplicate},
		{name: "lookup fails", store: brokenStore{}, want: ErrPersistence},
		{name: "insert fails", store: insertFailsStore{}, want: ErrPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIntakeFixture(t)
			in := NewIntake(testParams(), f.source, tt.store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

			_, err := in.Submit(context.Background(), "abc123xyz9", "SW1aaaaaaaaa")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, PublicMessage(err), "connection reset")
		})
	}
}

func TestIntake_Submit_PublishFailureDoesNotReject(t *testing.T) {
	f := newIntakeFixture(t)
	f.events.SetPublishError(errors.New("nats down"))

	sw, err := f.intake.Submit(context.Background(), "abc123xyz9", "SW1aaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, sw.Status)
	assert.Equal(t, 1, f.store.Len())
}

func TestIntake_Submit_ConcurrentSameTxid(t *testing.T) {
	f := newIntakeFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.intake.Submit(context.Background(), "abc123xyz9", "SW1aaaaaaaaa")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, f.store.Len())
}
