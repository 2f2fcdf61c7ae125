package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileResult summarizes one ReconcileWorkflow run.
type ReconcileResult struct {
	StartedAt   time.Time `json:"started_at"`
	Refreshed   int       `json:"refreshed"`
	Eligible    int       `json:"eligible"`
	Deferred    int       `json:"deferred"`
	Paid        int       `json:"paid"`
	Failed      int       `json:"failed"`
	FailedTxids []string  `json:"failed_txids,omitempty"`
}

// ReconcileWorkflow is one reconciliation tick, triggered by the
// reconcile-swaps schedule:
//
//  1. RefreshConfirmations (failure is logged, the run continues)
//  2. ListEligibleSwaps
//  3. for each swap in order: PayoutSwap, then MarkSwapProcessed
//
// Payouts run strictly one at a time and are never retried by Temporal.
func ReconcileWorkflow(ctx workflow.Context) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	result := &ReconcileResult{StartedAt: workflow.Now(ctx)}

	readCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	payoutCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	markCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	var refresh *RefreshConfirmationsResult
	if err := workflow.ExecuteActivity(readCtx, a.RefreshConfirmations).Get(ctx, &refresh); err != nil {
		logger.Warn("failed to refresh confirmations", "error", err)
	} else if refresh != nil {
		result.Refreshed = refresh.Refreshed
	}

	var eligible *ListEligibleSwapsResult
	if err := workflow.ExecuteActivity(readCtx, a.ListEligibleSwaps).Get(ctx, &eligible); err != nil {
		return result, fmt.Errorf("failed to list eligible swaps: %w", err)
	}
	if eligible == nil {
		eligible = &ListEligibleSwapsResult{}
	}
	result.Eligible = len(eligible.Swaps)
	result.Deferred = eligible.Deferred

	for _, sw := range eligible.Swaps {
		var payout *PayoutSwapResult
		err := workflow.ExecuteActivity(payoutCtx, a.PayoutSwap, PayoutSwapInput{Swap: sw}).Get(ctx, &payout)
		if err != nil {
			logger.Error("payout failed, swap stays pending", "txid", sw.Txid, "error", err)
			result.Failed++
			result.FailedTxids = append(result.FailedTxids, sw.Txid)
			continue
		}

		err = workflow.ExecuteActivity(markCtx, a.MarkSwapProcessed, MarkSwapProcessedInput{
			Swap:       sw,
			TargetTxid: payout.TargetTxid,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("payout sent but swap not marked processed",
				"txid", sw.Txid,
				"target_txid", payout.TargetTxid,
				"error", err,
			)
			result.Failed++
			result.FailedTxids = append(result.FailedTxids, sw.Txid)
			continue
		}
		result.Paid++
	}

	logger.Info("ReconcileWorkflow completed",
		"refreshed", result.Refreshed,
		"eligible", result.Eligible,
		"deferred", result.Deferred,
		"paid", result.Paid,
		"failed", result.Failed,
	)
	return result, nil
}
