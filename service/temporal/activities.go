package temporal

import (
	"context"
	"fmt"
	"log/slog"

	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/ledgerswap/service/db"
)

// RefreshConfirmationsResult contains the result of the RefreshConfirmations activity.
type RefreshConfirmationsResult struct {
	Refreshed int `json:"refreshed"`
}

// ListEligibleSwapsResult contains the swaps ready for payout.
type ListEligibleSwapsResult struct {
	Swaps    []*db.Swap `json:"swaps"`
	Deferred int        `json:"deferred"` // held back by payout backoff
}

// PayoutSwapInput contains parameters for the PayoutSwap activity.
type PayoutSwapInput struct {
	Swap *db.Swap `json:"swap"`
}

// PayoutSwapResult contains the result of the PayoutSwap activity.
type PayoutSwapResult struct {
	TargetTxid string `json:"target_txid"`
}

// MarkSwapProcessedInput contains parameters for the MarkSwapProcessed activity.
type MarkSwapProcessedInput struct {
	Swap       *db.Swap `json:"swap"`
	TargetTxid string   `json:"target_txid"`
}

// ReconcilerInterface defines the reconciliation steps run as activities.
// This allows for easy mocking in tests.
type ReconcilerInterface interface {
	RefreshConfirmations(ctx context.Context) (int, error)
	ListEligible(ctx context.Context) ([]*db.Swap, int, error)
	SendPayout(ctx context.Context, sw *db.Swap) (string, error)
	MarkProcessed(ctx context.Context, sw *db.Swap, targetTxid string) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	reconciler ReconcilerInterface
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(reconciler ReconcilerInterface, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		reconciler: reconciler,
		logger:     logger,
	}
}

// RefreshConfirmations re-reads confirmations for unconfirmed pending swaps.
func (a *Activities) RefreshConfirmations(ctx context.Context) (*RefreshConfirmationsResult, error) {
	n, err := a.reconciler.RefreshConfirmations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh confirmations: %w", err)
	}
	return &RefreshConfirmationsResult{Refreshed: n}, nil
}

// ListEligibleSwaps lists confirmed pending swaps not held back by backoff.
func (a *Activities) ListEligibleSwaps(ctx context.Context) (*ListEligibleSwapsResult, error) {
	swaps, deferred, err := a.reconciler.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible swaps: %w", err)
	}
	a.logger.DebugContext(ctx, "listed eligible swaps",
		"eligible", len(swaps),
		"deferred", deferred,
	)
	return &ListEligibleSwapsResult{Swaps: swaps, Deferred: deferred}, nil
}

// PayoutSwap sends one payout. Its errors are non-retryable: retrying a
// transfer whose outcome is unknown could pay twice. The swap stays pending
// and the next scheduled run picks it up.
func (a *Activities) PayoutSwap(ctx context.Context, input PayoutSwapInput) (*PayoutSwapResult, error) {
	if input.Swap == nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("swap is required", "InvalidInput", nil)
	}

	targetTxid, err := a.reconciler.SendPayout(ctx, input.Swap)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("payout for %s failed", input.Swap.Txid), "PayoutError", err)
	}
	return &PayoutSwapResult{TargetTxid: targetTxid}, nil
}

// MarkSwapProcessed records a completed payout.
func (a *Activities) MarkSwapProcessed(ctx context.Context, input MarkSwapProcessedInput) error {
	if input.Swap == nil || input.TargetTxid == "" {
		return temporalsdk.NewNonRetryableApplicationError("swap and target txid are required", "InvalidInput", nil)
	}
	return a.reconciler.MarkProcessed(ctx, input.Swap, input.TargetTxid)
}
