package swap

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/ledger"
	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/brojonat/ledgerswap/service/nats"
)

// SourceLedger looks up incoming transfers on the source ledger wallet.
type SourceLedger interface {
	GetTransferByTxid(ctx context.Context, txid string) (*ledger.Transfer, error)
}

// Store is the part of the swap store used at intake.
type Store interface {
	FindByTxid(ctx context.Context, txid string) (*db.Swap, error)
	InsertPending(ctx context.Context, params db.InsertPendingParams) (*db.Swap, error)
}

// Intake accepts swap submissions and records them as pending.
type Intake struct {
	params  Params
	source  SourceLedger
	store   Store
	events  nats.Publisher // optional
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIntake creates a new Intake. events and m may be nil.
func NewIntake(p Params, source SourceLedger, store Store, events nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Intake {
	return &Intake{
		params:  p,
		source:  source,
		store:   store,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// Submit validates a swap request, looks up the source transfer, converts the
// amount and stores a pending swap. It returns the stored swap, or a *Error
// whose Reason says why nothing was stored.
func (in *Intake) Submit(ctx context.Context, transactionID, targetAddress string) (*db.Swap, error) {
	sw, err := in.submit(ctx, transactionID, targetAddress)

	outcome := "accepted"
	if err != nil {
		outcome = string(ReasonOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if in.metrics != nil {
		in.metrics.RecordSubmission(outcome)
	}

	if err != nil {
		in.logger.InfoContext(ctx, "swap rejected",
			"txid", transactionID,
			"target_address", targetAddress,
			"reason", outcome,
			"error", err,
		)
		return nil, err
	}

	if in.metrics != nil {
		in.metrics.RecordTargetAmount(sw.TargetAmount)
	}
	in.logger.InfoContext(ctx, "swap accepted",
		"txid", sw.Txid,
		"amount", sw.Amount,
		"target_amount", sw.TargetAmount,
		"confirmations", sw.Confirmations,
	)
	in.publish(ctx, nats.EventAccepted, sw)
	return sw, nil
}

func (in *Intake) submit(ctx context.Context, transactionID, targetAddress string) (*db.Swap, error) {
	if err := Validate(transactionID, targetAddress, in.params); err != nil {
		return nil, err
	}

	transfer, err := in.source.GetTransferByTxid(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, ledger.ErrTransferNotFound) {
			in.logger.WarnContext(ctx, "source wallet lookup failed",
				"txid", transactionID,
				"error", err,
			)
		}
		return nil, newError(ReasonNotFound, err, "transfer not found")
	}
	if !transfer.Incoming() {
		return nil, newError(ReasonNotFound, nil, "transfer not found")
	}

	existing, err := in.store.FindByTxid(ctx, transactionID)
	switch {
	case err == nil && existing != nil:
		return nil, newError(ReasonDuplicate, nil, "swap already submitted for this transaction")
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return nil, newError(ReasonPersistence, err, "failed to check for an existing swap")
	}

	params, err := insertParams(transfer, targetAddress)
	if err != nil {
		return nil, err
	}
	// Store the txid as submitted; the wallet may report it in another case.
	params.Txid = transactionID

	params.TargetAmount, err = Convert(params.Amount, in.params)
	if err != nil {
		return nil, err
	}

	sw, err := in.store.InsertPending(ctx, params)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			return nil, newError(ReasonDuplicate, err, "swap already submitted for this transaction")
		}
		return nil, newError(ReasonPersistence, err, "failed to store swap")
	}
	return sw, nil
}

func (in *Intake) publish(ctx context.Context, event nats.EventType, sw *db.Swap) {
	if in.events == nil {
		return
	}
	if err := in.events.PublishSwapEvent(ctx, nats.NewSwapEvent(event, sw)); err != nil {
		in.logger.WarnContext(ctx, "failed to publish swap event",
			"event", event,
			"txid", sw.Txid,
			"error", err,
		)
	}
}

// insertParams copies the wallet's transfer snapshot into store params.
// Every counter is checked against the int64 column it lands in.
func insertParams(t *ledger.Transfer, targetAddress string) (db.InsertPendingParams, error) {
	p := db.InsertPendingParams{
		Txid:            t.Txid,
		SourceAddress:   t.Address,
		DoubleSpendSeen: t.DoubleSpendSeen,
		Note:            t.Note,
		PaymentID:       t.PaymentID,
		SubaddrIndex:    db.SubaddrIndex{Major: t.SubaddrIndex.Major, Minor: t.SubaddrIndex.Minor},
		Type:            t.Type,
		TargetAddress:   targetAddress,
	}

	counters := []struct {
		name  string
		value uint64
		dst   *int64
	}{
		{"amount", t.Amount, &p.Amount},
		{"confirmations", t.Confirmations, &p.Confirmations},
		{"fee", t.Fee, &p.Fee},
		{"height", t.Height, &p.Height},
		{"suggested_confirmations_threshold", t.SuggestedConfirmationsThreshold, &p.SuggestedConfirmationsThreshold},
		{"timestamp", t.Timestamp, &p.Timestamp},
		{"unlock_time", t.UnlockTime, &p.UnlockTime},
	}
	for _, c := range counters {
		if c.value > math.MaxInt64 {
			return db.InsertPendingParams{}, newError(ReasonConversion, nil, "%s %d is out of range", c.name, c.value)
		}
		*c.dst = int64(c.value)
	}
	return p, nil
}
