package ledger

// SubaddrIndex identifies a wallet subaddress.
type SubaddrIndex struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// Transfer is a wallet transfer as reported by get_transfer_by_txid.
// Amounts are in atomic units.
type Transfer struct {
	Txid                            string       `json:"txid"`
	Address                         string       `json:"address"`
	Amount                          uint64       `json:"amount"`
	Confirmations                   uint64       `json:"confirmations"`
	DoubleSpendSeen                 bool         `json:"double_spend_seen"`
	Fee                             uint64       `json:"fee"`
	Height                          uint64       `json:"height"`
	Locked                          bool         `json:"locked"`
	Note                            string       `json:"note"`
	PaymentID                       string       `json:"payment_id"`
	SubaddrIndex                    SubaddrIndex `json:"subaddr_index"`
	SuggestedConfirmationsThreshold uint64       `json:"suggested_confirmations_threshold"`
	Timestamp                       uint64       `json:"timestamp"`
	Type                            string       `json:"type"`
	UnlockTime                      uint64       `json:"unlock_time"`
}

// Incoming reports whether the transfer credited the wallet.
func (t *Transfer) Incoming() bool {
	switch t.Type {
	case "in", "pool":
		return true
	default:
		return false
	}
}

type getTransferByTxidParams struct {
	Txid string `json:"txid"`
}

type getTransferByTxidResult struct {
	Transfer  *Transfer   `json:"transfer"`
	Transfers []*Transfer `json:"transfers,omitempty"`
}

// Destination is one output of a payout.
type Destination struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// PayoutRequest is the body of a wallet "transfer" call.
type PayoutRequest struct {
	Destinations []Destination `json:"destinations"`
	AccountIndex uint32        `json:"account_index"`
	Priority     int           `json:"priority"`
	Mixin        int           `json:"mixin"`
	UnlockTime   uint64        `json:"unlock_time"`
	GetTxKey     bool          `json:"get_tx_key"`
}

// PayoutResult is the wallet's answer to a successful transfer.
type PayoutResult struct {
	TxHash string `json:"tx_hash"`
	TxKey  string `json:"tx_key,omitempty"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

type setTxNotesParams struct {
	Txids []string `json:"txids"`
	Notes []string `json:"notes"`
}
