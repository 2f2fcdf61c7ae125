package db

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no swap exists for a txid.
	ErrNotFound = errors.New("swap not found")
	// ErrDuplicateKey is returned when a swap for the txid is already recorded.
	ErrDuplicateKey = errors.New("swap already exists")
)

// DefaultListLimit caps ListSwaps when no limit is given.
const DefaultListLimit = 100

// Status is the lifecycle state of a swap. It only ever moves forward.
type Status int16

const (
	StatusPending   Status = 0
	StatusProcessed Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessed:
		return "processed"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStatus parses "pending" or "processed" (or the numeric codes).
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pending", "0":
		return StatusPending, nil
	case "processed", "1":
		return StatusProcessed, nil
	default:
		return 0, fmt.Errorf("unknown swap status %q", v)
	}
}

// SubaddrIndex identifies the receiving subaddress in the source wallet.
type SubaddrIndex struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// Swap is one accepted swap request.
// The source transfer fields are a snapshot taken at intake; only Confirmations
// is refreshed afterwards, and only while the swap is Pending.
type Swap struct {
	Txid                            string       `json:"txid"`
	SourceAddress                   string       `json:"source_address"`
	Amount                          int64        `json:"amount"`
	Confirmations                   int64        `json:"confirmations"`
	DoubleSpendSeen                 bool         `json:"double_spend_seen"`
	Fee                             int64        `json:"fee"`
	Height                          int64        `json:"height"`
	Note                            string       `json:"note"`
	PaymentID                       string       `json:"payment_id"`
	SubaddrIndex                    SubaddrIndex `json:"subaddr_index"`
	SuggestedConfirmationsThreshold int64        `json:"suggested_confirmations_threshold"`
	Timestamp                       int64        `json:"timestamp"`
	Type                            string       `json:"type"`
	UnlockTime                      int64        `json:"unlock_time"`
	TargetAddress                   string       `json:"target_address"`
	TargetAmount                    int64        `json:"target_amount"`
	Status                          Status       `json:"status"`
	TargetTxid                      *string      `json:"target_txid,omitempty"`
	TargetTimestamp                 *time.Time   `json:"target_timestamp,omitempty"`
	CreatedAt                       time.Time    `json:"created_at"`
	UpdatedAt                       time.Time    `json:"updated_at"`
}

// InsertPendingParams contains the fields written when a swap is accepted.
type InsertPendingParams struct {
	Txid                            string
	SourceAddress                   string
	Amount                          int64
	Confirmations                   int64
	DoubleSpendSeen                 bool
	Fee                             int64
	Height                          int64
	Note                            string
	PaymentID                       string
	SubaddrIndex                    SubaddrIndex
	SuggestedConfirmationsThreshold int64
	Timestamp                       int64
	Type                            string
	UnlockTime                      int64
	TargetAddress                   string
	TargetAmount                    int64
}

// ListSwapsParams filters and paginates ListSwaps.
type ListSwapsParams struct {
	Status *Status
	Limit  int32
	Offset int32
}
