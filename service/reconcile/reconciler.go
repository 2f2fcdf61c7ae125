package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/brojonat/ledgerswap/service/nats"
	"github.com/brojonat/ledgerswap/service/swap"
)

// Store is the part of the swap store used by reconciliation.
type Store interface {
	ListPendingConfirmed(ctx context.Context, threshold int64) ([]*db.Swap, error)
	ListPendingUnconfirmed(ctx context.Context, threshold int64) ([]*db.Swap, error)
	UpdateConfirmations(ctx context.Context, txid string, confirmations int64) error
	MarkProcessed(ctx context.Context, txid, targetTxid string, at time.Time) error
}

// SourceLedger reports the current state of a source transfer.
type SourceLedger interface {
	GetTransferByTxid(ctx context.Context, txid string) (*ledger.Transfer, error)
}

// TargetLedger sends payouts on the target ledger.
type TargetLedger interface {
	Transfer(ctx context.Context, req ledger.PayoutRequest) (*ledger.PayoutResult, error)
	SetTxNote(ctx context.Context, txid, note string) error
}

// Config holds payout and retry settings.
type Config struct {
	ConfirmationThreshold int64
	NetworkFee            int64
	Mixin                 int
	Priority              int
	Comment               string
	RetryBase             time.Duration
	RetryMax              time.Duration
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped   bool // another tick was already running
	Refreshed int
	Eligible  int
	Paid      int
	Failed    int
	Deferred  int
	Err       error // set when the tick could not list its work
}

// Status is the metrics label for the tick outcome.
func (r TickResult) Status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Err != nil:
		return "error"
	case r.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}

// Reconciler pays out confirmed pending swaps.
type Reconciler struct {
	cfg     Config
	store   Store
	source  SourceLedger
	target  TargetLedger
	events  nats.Publisher // optional
	metrics *metrics.Metrics
	logger  *slog.Logger
	backoff *Backoff
	now     func() time.Time

	running sync.Mutex

	// unmarked maps source txid to payout txid for payouts whose status
	// update has not succeeded yet. Later ticks retry only the update.
	mu       sync.Mutex
	unmarked map[string]string
}

// New creates a new Reconciler. events and m may be nil.
func New(cfg Config, store Store, source SourceLedger, target TargetLedger, events nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		source:   source,
		target:   target,
		events:   events,
		metrics:  m,
		logger:   logger,
		backoff:  NewBackoff(cfg.RetryBase, cfg.RetryMax),
		now:      time.Now,
		unmarked: make(map[string]string),
	}
}

// Tick runs one reconciliation pass: refresh confirmations, list eligible
// swaps, then pay them out one at a time. Ticks never overlap; a call made
// while another tick is running returns immediately with Skipped set.
func (r *Reconciler) Tick(ctx context.Context) TickResult {
	if !r.running.TryLock() {
		if r.metrics != nil {
			r.metrics.RecordTickSkipped()
		}
		r.logger.WarnContext(ctx, "reconcile tick skipped, previous tick still running")
		return TickResult{Skipped: true}
	}
	defer r.running.Unlock()

	start := time.Now()
	res := r.tick(ctx)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordTick(res.Status(), duration.Seconds())
	}

	logArgs := []any{
		"refreshed", res.Refreshed,
		"eligible", res.Eligible,
		"paid", res.Paid,
		"failed", res.Failed,
		"deferred", res.Deferred,
		"duration", duration,
	}
	if res.Err != nil {
		r.logger.ErrorContext(ctx, "reconcile tick failed", append(logArgs, "error", res.Err)...)
	} else {
		r.logger.InfoContext(ctx, "reconcile tick completed", logArgs...)
	}
	return res
}

func (r *Reconciler) tick(ctx context.Context) TickResult {
	var res TickResult

	refreshed, err := r.RefreshConfirmations(ctx)
	res.Refreshed = refreshed
	if err != nil {
		// Confirmed swaps can still be paid.
		r.logger.WarnContext(ctx, "failed to refresh confirmations", "error", err)
	}

	eligible, deferred, err := r.ListEligible(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Eligible = len(eligible)
	res.Deferred = deferred

	for _, sw := range eligible {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if err := r.Process(ctx, sw); err != nil {
			res.Failed++
			continue
		}
		res.Paid++
	}
	return res
}

// RefreshConfirmations re-reads confirmations for pending swaps at or below
// the threshold. Lookup failures are logged and skipped.
func (r *Reconciler) RefreshConfirmations(ctx context.Context) (int, error) {
	unconfirmed, err := r.store.ListPendingUnconfirmed(ctx, r.cfg.ConfirmationThreshold)
	if err != nil {
		return 0, fmt.Errorf("failed to list unconfirmed swaps: %w", err)
	}

	refreshed := 0
	for _, sw := range unconfirmed {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}

		transfer, err := r.source.GetTransferByTxid(ctx, sw.Txid)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to refresh confirmations",
				"txid", sw.Txid,
				"error", err,
			)
			continue
		}
		if int64(transfer.Confirmations) == sw.Confirmations {
			continue
		}

		if err := r.store.UpdateConfirmations(ctx, sw.Txid, int64(transfer.Confirmations)); err != nil {
			r.logger.WarnContext(ctx, "failed to store confirmations",
				"txid", sw.Txid,
				"error", err,
			)
			continue
		}
		r.logger.DebugContext(ctx, "confirmations updated",
			"txid", sw.Txid,
			"from", sw.Confirmations,
			"to", transfer.Confirmations,
		)
		refreshed++
	}
	return refreshed, nil
}

// ListEligible returns confirmed pending swaps that are not deferred by
// payout backoff, in store order, plus the number deferred.
func (r *Reconciler) ListEligible(ctx context.Context) ([]*db.Swap, int, error) {
	confirmed, err := r.store.ListPendingConfirmed(ctx, r.cfg.ConfirmationThreshold)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list eligible swaps: %w", err)
	}

	now := r.now()
	eligible := make([]*db.Swap, 0, len(confirmed))
	deferred := 0
	for _, sw := range confirmed {
		if !r.backoff.Ready(sw.Txid, now) {
			deferred++
			if r.metrics != nil {
				r.metrics.RecordPayoutDeferred()
			}
			continue
		}
		eligible = append(eligible, sw)
	}

	if r.metrics != nil {
		r.metrics.RecordEligible(len(eligible))
	}
	return eligible, deferred, nil
}

// Process pays out one swap and marks it processed.
func (r *Reconciler) Process(ctx context.Context, sw *db.Swap) error {
	targetTxid, err := r.SendPayout(ctx, sw)
	if err != nil {
		return err
	}
	return r.MarkProcessed(ctx, sw, targetTxid)
}

// SendPayout pays out one swap and returns the payout txid. A failure is
// counted toward the swap's backoff and published. A swap whose payout went
// through earlier but was never marked processed is not paid again; its
// earlier payout txid is returned.
func (r *Reconciler) SendPayout(ctx context.Context, sw *db.Swap) (string, error) {
	if targetTxid, ok := r.unmarkedPayout(sw.Txid); ok {
		r.logger.InfoContext(ctx, "retrying status update for paid swap",
			"txid", sw.Txid,
			"target_txid", targetTxid,
		)
		return targetTxid, nil
	}

	result, err := r.Payout(ctx, sw)
	if err != nil {
		delay := r.backoff.Failure(sw.Txid, r.now())
		r.logger.ErrorContext(ctx, "payout failed",
			"txid", sw.Txid,
			"target_address", sw.TargetAddress,
			"failures", r.backoff.Failures(sw.Txid),
			"retry_in", delay,
			"error", err,
		)
		ev := nats.NewSwapEvent(nats.EventPayoutFailed, sw)
		ev.Error = err.Error()
		r.publish(ctx, ev)
		return "", err
	}
	r.backoff.Reset(sw.Txid)

	// Remembered until MarkProcessed succeeds.
	r.rememberUnmarked(sw.Txid, result.TxHash)
	r.annotate(ctx, sw, result.TxHash)
	return result.TxHash, nil
}

// Payout sends targetAmount minus the network fee to the swap's target
// address. It is a single attempt; callers must not retry it blindly.
func (r *Reconciler) Payout(ctx context.Context, sw *db.Swap) (*ledger.PayoutResult, error) {
	amount := sw.TargetAmount - r.cfg.NetworkFee
	if amount <= 0 {
		return nil, &swap.Error{
			Reason:  swap.ReasonPayout,
			Message: fmt.Sprintf("target amount %d does not cover network fee %d", sw.TargetAmount, r.cfg.NetworkFee),
		}
	}

	start := time.Now()
	result, err := r.target.Transfer(ctx, ledger.PayoutRequest{
		Destinations: []ledger.Destination{{Amount: uint64(amount), Address: sw.TargetAddress}},
		Priority:     r.cfg.Priority,
		Mixin:        r.cfg.Mixin,
		GetTxKey:     true,
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordPayout(status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &swap.Error{Reason: swap.ReasonPayout, Message: "target ledger transfer failed", Err: err}
	}

	r.logger.InfoContext(ctx, "payout sent",
		"txid", sw.Txid,
		"target_txid", result.TxHash,
		"amount", amount,
		"fee", result.Fee,
	)
	return result, nil
}

// MarkProcessed records the payout. On failure the payout stays remembered
// so the next tick retries the update instead of paying again. That memory
// does not survive a restart.
func (r *Reconciler) MarkProcessed(ctx context.Context, sw *db.Swap, targetTxid string) error {
	at := r.now().UTC()
	if err := r.store.MarkProcessed(ctx, sw.Txid, targetTxid, at); err != nil {
		r.rememberUnmarked(sw.Txid, targetTxid)
		r.logger.ErrorContext(ctx, "payout sent but swap not marked processed",
			"txid", sw.Txid,
			"target_txid", targetTxid,
			"error", err,
		)
		return &swap.Error{Reason: swap.ReasonPersistence, Message: "failed to mark swap processed", Err: err}
	}
	r.forgetUnmarked(sw.Txid)

	processed := *sw
	processed.Status = db.StatusProcessed
	processed.TargetTxid = &targetTxid
	processed.TargetTimestamp = &at
	r.publish(ctx, nats.NewSwapEvent(nats.EventProcessed, &processed))

	r.logger.InfoContext(ctx, "swap processed",
		"txid", sw.Txid,
		"target_txid", targetTxid,
	)
	return nil
}

// annotate tags the payout transaction with the source txid so an operator
// can match a duplicate payout to its swap.
func (r *Reconciler) annotate(ctx context.Context, sw *db.Swap, targetTxid string) {
	if err := r.target.SetTxNote(ctx, targetTxid, PayoutNote(r.cfg.Comment, sw.Txid)); err != nil {
		r.logger.WarnContext(ctx, "failed to set payout note",
			"txid", sw.Txid,
			"target_txid", targetTxid,
			"error", err,
		)
	}
}

// PayoutNote is the wallet note attached to a payout.
func PayoutNote(comment, txid string) string {
	note := "swap:" + txid
	if c := strings.TrimSpace(comment); c != "" {
		note = c + " " + note
	}
	return note
}

func (r *Reconciler) publish(ctx context.Context, ev *nats.SwapEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishSwapEvent(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "failed to publish swap event",
			"event", ev.Event,
			"txid", ev.Txid,
			"error", err,
		)
	}
}

func (r *Reconciler) unmarkedPayout(txid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	targetTxid, ok := r.unmarked[txid]
	return targetTxid, ok
}

func (r *Reconciler) rememberUnmarked(txid, targetTxid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmarked[txid] = targetTxid
}

func (r *Reconciler) forgetUnmarked(txid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unmarked, txid)
}

// IsPayoutError reports whether err came from the target ledger transfer.
func IsPayoutError(err error) bool {
	return errors.Is(err, swap.ErrPayout)
}
