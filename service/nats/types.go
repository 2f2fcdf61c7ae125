package nats

import (
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/ledgerswap/service/db"
)

// EventType names a point in the swap lifecycle.
type EventType string

const (
	EventAccepted     EventType = "accepted"
	EventProcessed    EventType = "processed"
	EventPayoutFailed EventType = "payout_failed"
)

// SwapEvent is published to the subject "swaps.{event}" in JetStream.
type SwapEvent struct {
	ID    string    `json:"id"`
	Event EventType `json:"event"`

	Txid          string    `json:"txid"`
	Amount        int64     `json:"amount"`
	Confirmations int64     `json:"confirmations"`
	TargetAddress string    `json:"target_address"`
	TargetAmount  int64     `json:"target_amount"`
	Status        db.Status `json:"status"`

	// Set on processed events.
	TargetTxid *string `json:"target_txid,omitempty"`
	// Set on payout_failed events.
	Error string `json:"error,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *SwapEvent) Subject() string {
	return SubjectPrefix + string(e.Event)
}

// MsgID is the JetStream deduplication id. Accepted and processed happen once
// per swap; payout failures repeat, so each failure event keeps its own id.
func (e *SwapEvent) MsgID() string {
	if e.Event == EventPayoutFailed {
		return e.Txid + ":" + string(e.Event) + ":" + e.ID
	}
	return e.Txid + ":" + string(e.Event)
}

// NewSwapEvent builds an event from a stored swap.
func NewSwapEvent(event EventType, sw *db.Swap) *SwapEvent {
	return &SwapEvent{
		ID:            uuid.NewString(),
		Event:         event,
		Txid:          sw.Txid,
		Amount:        sw.Amount,
		Confirmations: sw.Confirmations,
		TargetAddress: sw.TargetAddress,
		TargetAmount:  sw.TargetAmount,
		Status:        sw.Status,
		TargetTxid:    sw.TargetTxid,
		PublishedAt:   time.Now().UTC(),
	}
}
