package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/brojonat/ledgerswap/service/metrics"
)

// ErrTransferNotFound is returned when the wallet does not know the txid.
var ErrTransferNotFound = errors.New("transfer not found")

const maxReadAttempts = 3

// Client talks to one ledger wallet or daemon over JSON-RPC.
// Every call is bounded by the configured timeout so a stuck node cannot
// stall the caller indefinitely.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // label for metrics, e.g. "source_wallet"
	timeout  time.Duration
	backoff  time.Duration
}

// NewClient creates a new ledger client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		timeout:  timeout,
		backoff:  250 * time.Millisecond,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// GetTransferByTxid looks up a wallet transfer.
// An RPC error object or an empty result means the wallet has no such
// transfer and yields ErrTransferNotFound.
func (c *Client) GetTransferByTxid(ctx context.Context, txid string) (*Transfer, error) {
	var out getTransferByTxidResult
	err := c.callWithRetry(ctx, "get_transfer_by_txid", &out, getTransferByTxidParams{Txid: txid})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %s (code %d)", ErrTransferNotFound, rpcErr.Message, rpcErr.Code)
		}
		return nil, fmt.Errorf("get_transfer_by_txid %s: %w", txid, err)
	}

	if out.Transfer == nil || out.Transfer.Txid == "" {
		return nil, ErrTransferNotFound
	}
	if !strings.EqualFold(out.Transfer.Txid, txid) {
		return nil, fmt.Errorf("%w: wallet returned txid %s", ErrTransferNotFound, out.Transfer.Txid)
	}
	return out.Transfer, nil
}

// Transfer sends a payout. It is never retried here: a transport error after
// the wallet accepted the request would otherwise pay twice.
func (c *Client) Transfer(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if len(req.Destinations) == 0 {
		return nil, errors.New("transfer: no destinations")
	}

	var out PayoutResult
	if err := c.call(ctx, "transfer", &out, req); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	if out.TxHash == "" {
		return nil, errors.New("transfer: wallet returned an empty tx hash")
	}
	return &out, nil
}

// SetTxNote attaches a note to a wallet transaction.
func (c *Client) SetTxNote(ctx context.Context, txid, note string) error {
	var out json.RawMessage
	if err := c.call(ctx, "set_tx_notes", &out, setTxNotesParams{Txids: []string{txid}, Notes: []string{note}}); err != nil {
		return fmt.Errorf("set_tx_notes %s: %w", txid, err)
	}
	return nil
}

// GetVersion returns the node's get_version result unchanged.
func (c *Client) GetVersion(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.callWithRetry(ctx, "get_version", &out, nil); err != nil {
		return nil, fmt.Errorf("get_version: %w", err)
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return out, nil
}

// callWithRetry retries transport failures with exponential backoff.
// JSON-RPC error objects are answers, not failures, and are returned at once.
func (c *Client) callWithRetry(ctx context.Context, method string, out any, params any) error {
	var err error
	for attempt := range maxReadAttempts {
		err = c.call(ctx, method, out, params)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt == maxReadAttempts-1 {
			break
		}

		backoff := c.backoff << uint(attempt)
		c.logger.WarnContext(ctx, "ledger rpc call failed, retrying",
			"endpoint", c.endpoint,
			"method", method,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, "transport")
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, out any, params any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	if params == nil {
		err = c.rpc.CallFor(ctx, out, method)
	} else {
		err = c.rpc.CallFor(ctx, out, method, params)
	}
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		c.logger.DebugContext(ctx, "ledger rpc call failed",
			"endpoint", c.endpoint,
			"method", method,
			"duration_seconds", duration,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}
	return err
}

func retryable(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == 429 || httpErr.Code >= 500
	}
	return true
}
