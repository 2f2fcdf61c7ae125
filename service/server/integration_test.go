package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/ledgerswap/client"
	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/brojonat/ledgerswap/service/nats"
	"github.com/brojonat/ledgerswap/service/reconcile"
	"github.com/brojonat/ledgerswap/service/server"
	"github.com/brojonat/ledgerswap/service/swap"
)

// sourceWallet lets the test move a transfer's confirmations forward.
type sourceWallet struct {
	mu        sync.Mutex
	transfers map[string]ledger.Transfer
}

func (s *sourceWallet) GetTransferByTxid(ctx context.Context, txid string) (*ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[txid]
	if !ok {
		return nil, ledger.ErrTransferNotFound
	}
	return &t, nil
}

func (s *sourceWallet) confirm(txid string, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[txid]
	t.Confirmations = n
	s.transfers[txid] = t
}

type targetWallet struct {
	mu      sync.Mutex
	payouts []ledger.PayoutRequest
	notes   map[string]string
}

func (w *targetWallet) Transfer(ctx context.Context, req ledger.PayoutRequest) (*ledger.PayoutResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payouts = append(w.payouts, req)
	return &ledger.PayoutResult{TxHash: "payout-1", Amount: req.Destinations[0].Amount}, nil
}

func (w *targetWallet) SetTxNote(ctx context.Context, txid, note string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes[txid] = note
	return nil
}

type daemonStub struct{}

func (daemonStub) GetVersion(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"version":1}`), nil
}

// TestSwapLifecycle drives a swap from submission to payout through the HTTP
// API and a reconciler tick.
func TestSwapLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	params := swap.Params{
		SourceIDLength:         10,
		TargetAddressLength:    12,
		TargetAddressPrefix:    "SW1",
		SourceAtomicUnitFactor: 1_000_000_000,
		TargetAtomicUnitFactor: 1_000_000_000_000,
		Ratio:                  decimal.NewFromInt(10),
	}
	source := &sourceWallet{transfers: map[string]ledger.Transfer{
		"abc123xyz9": {Txid: "abc123xyz9", Amount: 100_000_000_000, Confirmations: 1, Type: "in"},
	}}
	target := &targetWallet{notes: map[string]string{}}
	store := db.NewMemoryStore()
	events := nats.NewMockPublisher()

	intake := swap.NewIntake(params, source, store, events, m, logger)
	rec := reconcile.New(reconcile.Config{
		ConfirmationThreshold: 10,
		NetworkFee:            1_000,
		Mixin:                 10,
		Comment:               "ledgerswap",
		RetryBase:             time.Minute,
		RetryMax:              time.Hour,
	}, store, source, target, events, m, logger)

	ts := httptest.NewServer(server.New(":0", intake, daemonStub{}, store, m, logger).Handler())
	defer ts.Close()
	c := client.NewClient(ts.URL, nil, logger)

	res, err := c.Submit(ctx, "abc123xyz9", "SW1abc456def")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000_000_000), res.Swap.TargetAmount)

	_, err = c.Submit(ctx, "abc123xyz9", "SW1abc456def")
	require.Error(t, err)
	assert.Equal(t, "duplicate", client.ReasonOf(err))

	// Not confirmed yet: nothing is paid.
	result := rec.Tick(ctx)
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Paid)

	source.confirm("abc123xyz9", 11)
	result = rec.Tick(ctx)
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Refreshed)
	assert.Equal(t, 1, result.Paid)

	sw, err := c.Get(ctx, "abc123xyz9")
	require.NoError(t, err)
	assert.Equal(t, client.StatusProcessed, sw.Status)
	require.NotNil(t, sw.TargetTxid)
	assert.Equal(t, "payout-1", *sw.TargetTxid)
	assert.Equal(t, int64(11), sw.Confirmations)

	// A second tick must not pay again.
	result = rec.Tick(ctx)
	assert.Equal(t, 0, result.Paid)

	target.mu.Lock()
	require.Len(t, target.payouts, 1)
	assert.Equal(t, uint64(10_000_000_000_000-1_000), target.payouts[0].Destinations[0].Amount)
	assert.Equal(t, "SW1abc456def", target.payouts[0].Destinations[0].Address)
	assert.Equal(t, "ledgerswap swap:abc123xyz9", target.notes["payout-1"])
	target.mu.Unlock()

	assert.Len(t, events.GetEventsOfType(nats.EventAccepted), 1)
	assert.Len(t, events.GetEventsOfType(nats.EventProcessed), 1)

	processed, err := c.List(ctx, client.ListOptions{Status: client.StatusProcessed})
	require.NoError(t, err)
	require.Len(t, processed, 1)
}
