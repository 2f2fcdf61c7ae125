package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/brojonat/ledgerswap/service/metrics"
)

// RPCClient is the JSON-RPC surface the wallet and daemon clients need.
// This allows us to fake the RPC layer in tests without running a wallet.
type RPCClient interface {
	CallFor(ctx context.Context, out any, method string, params ...any) error
	Close() error
}

// NewRPCClient returns a JSON-RPC 2.0 client for a wallet or daemon json_rpc endpoint,
// e.g. http://127.0.0.1:19995/json_rpc. The client has no timeout of its own;
// Client bounds every call with a context deadline.
func NewRPCClient(endpoint string, headers map[string]string) RPCClient {
	return jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient:    &http.Client{},
		CustomHeaders: headers,
	})
}

// Dial returns a Client for a json_rpc endpoint URL.
func Dial(url, endpoint string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	return NewClient(NewRPCClient(url, nil), endpoint, timeout, m, logger.With("ledger", endpoint))
}
