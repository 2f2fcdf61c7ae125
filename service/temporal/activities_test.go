package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/brojonat/ledgerswap/service/reconcile"
)

// MockReconciler is a testify mock of ReconcilerInterface.
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) RefreshConfirmations(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockReconciler) ListEligible(ctx context.Context) ([]*db.Swap, int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*db.Swap), args.Int(1), args.Error(2)
}

func (m *MockReconciler) SendPayout(ctx context.Context, sw *db.Swap) (string, error) {
	args := m.Called(ctx, sw)
	return args.String(0), args.Error(1)
}

func (m *MockReconciler) MarkProcessed(ctx context.Context, sw *db.Swap, targetTxid string) error {
	args := m.Called(ctx, sw, targetTxid)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSwap(txid string) *db.Swap {
	return &db.Swap{
		Txid:          txid,
		Amount:        5_000_000_000,
		Confirmations: 11,
		TargetAddress: "SW1aaaaaaaaa",
		TargetAmount:  500_000_000_000,
		Status:        db.StatusPending,
	}
}

func TestActivities_RefreshConfirmations(t *testing.T) {
	rec := new(MockReconciler)
	rec.On("RefreshConfirmations", mock.Anything).Return(2, nil).Once()
	rec.On("RefreshConfirmations", mock.Anything).Return(0, errors.New("db down")).Once()

	acts := NewActivities(rec, discardLogger())

	res, err := acts.RefreshConfirmations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Refreshed)

	_, err = acts.RefreshConfirmations(context.Background())
	assert.Error(t, err)
	rec.AssertExpectations(t)
}

func TestActivities_ListEligibleSwaps(t *testing.T) {
	rec := new(MockReconciler)
	swaps := []*db.Swap{testSwap("swap000001"), testSwap("swap000002")}
	rec.On("ListEligible", mock.Anything).Return(swaps, 1, nil)

	res, err := NewActivities(rec, discardLogger()).ListEligibleSwaps(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Swaps, 2)
	assert.Equal(t, 1, res.Deferred)
}

func TestActivities_PayoutSwap(t *testing.T) {
	sw := testSwap("swap000001")

	t.Run("success", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("SendPayout", mock.Anything, sw).Return("payout-hash", nil)

		res, err := NewActivities(rec, discardLogger()).PayoutSwap(context.Background(), PayoutSwapInput{Swap: sw})
		require.NoError(t, err)
		assert.Equal(t, "payout-hash", res.TargetTxid)
	})

	t.Run("failure is non-retryable", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("SendPayout", mock.Anything, sw).Return("", errors.New("not enough money"))

		_, err := NewActivities(rec, discardLogger()).PayoutSwap(context.Background(), PayoutSwapInput{Swap: sw})
		require.Error(t, err)

		var appErr *temporalsdk.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, "PayoutError", appErr.Type())
	})

	t.Run("missing swap", func(t *testing.T) {
		_, err := NewActivities(new(MockReconciler), discardLogger()).PayoutSwap(context.Background(), PayoutSwapInput{})
		assert.Error(t, err)
	})
}

func TestActivities_MarkSwapProcessed(t *testing.T) {
	sw := testSwap("swap000001")
	rec := new(MockReconciler)
	rec.On("MarkProcessed", mock.Anything, sw, "payout-hash").Return(nil)

	acts := NewActivities(rec, discardLogger())
	require.NoError(t, acts.MarkSwapProcessed(context.Background(), MarkSwapProcessedInput{Swap: sw, TargetTxid: "payout-hash"}))
	assert.Error(t, acts.MarkSwapProcessed(context.Background(), MarkSwapProcessedInput{Swap: sw}))
	rec.AssertNumberOfCalls(t, "MarkProcessed", 1)
}

type stubTarget struct {
	calls int
}

func (s *stubTarget) Transfer(ctx context.Context, req ledger.PayoutRequest) (*ledger.PayoutResult, error) {
	s.calls++
	return &ledger.PayoutResult{TxHash: "payout-hash", Amount: req.Destinations[0].Amount}, nil
}

func (s *stubTarget) SetTxNote(ctx context.Context, txid, note string) error { return nil }

type noSource struct{}

func (noSource) GetTransferByTxid(ctx context.Context, txid string) (*ledger.Transfer, error) {
	return nil, ledger.ErrTransferNotFound
}

// The activities drive a real Reconciler end to end.
func TestActivities_WithReconciler(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	_, err := store.InsertPending(ctx, db.InsertPendingParams{
		Txid:          "swap000001",
		Amount:        5_000_000_000,
		Confirmations: 11,
		TargetAddress: "SW1aaaaaaaaa",
		TargetAmount:  500_000_000_000,
	})
	require.NoError(t, err)

	target := &stubTarget{}
	rec := reconcile.New(reconcile.Config{ConfirmationThreshold: 10, RetryBase: time.Minute, RetryMax: time.Hour},
		store, noSource{}, target, nil, metrics.NewMetrics(prometheus.NewRegistry()), discardLogger())
	acts := NewActivities(rec, discardLogger())

	eligible, err := acts.ListEligibleSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, eligible.Swaps, 1)

	payout, err := acts.PayoutSwap(ctx, PayoutSwapInput{Swap: eligible.Swaps[0]})
	require.NoError(t, err)
	require.NoError(t, acts.MarkSwapProcessed(ctx, MarkSwapProcessedInput{Swap: eligible.Swaps[0], TargetTxid: payout.TargetTxid}))

	sw, err := store.FindByTxid(ctx, "swap000001")
	require.NoError(t, err)
	assert.Equal(t, db.StatusProcessed, sw.Status)
	assert.Equal(t, 1, target.calls)
}
