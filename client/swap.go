package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Swap statuses as rendered by the server.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

// Swap is a swap record as returned by the server.
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
	Status                          string       `json:"status"`
	TargetTxid                      *string      `json:"target_txid,omitempty"`
	TargetTimestamp                 *time.Time   `json:"target_timestamp,omitempty"`
	CreatedAt                       time.Time    `json:"created_at"`
	UpdatedAt                       time.Time    `json:"updated_at"`
}

// SubaddrIndex identifies the receiving subaddress in the source wallet.
type SubaddrIndex struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// SubmitResult is the server's answer to an accepted swap.
type SubmitResult struct {
	Success string `json:"success"`
	Swap    *Swap  `json:"swap"`
}

// ListOptions filters List. Zero values mean "server default".
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

// APIError is a non-2xx response. Reason is set for swap rejections
// (validation, not_found, duplicate, conversion, persistence).
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// ReasonOf returns the rejection reason carried by err, or "".
func ReasonOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ""
}

// Client is the HTTP client for the ledgerswap service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new swap service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit asks the server to swap the funds received in transactionID to swapAddress.
func (c *Client) Submit(ctx context.Context, transactionID, swapAddress string) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]string{
		"transactionId": transactionID,
		"swapAddress":   swapAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result SubmitResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("swap submitted", "txid", transactionID, "swap_address", swapAddress)
	return &result, nil
}

// Get retrieves one swap by source txid.
func (c *Client) Get(ctx context.Context, txid string) (*Swap, error) {
	u := fmt.Sprintf("%s/api/swaps/%s", c.baseURL, url.PathEscape(txid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var sw Swap
	if err := c.do(req, &sw); err != nil {
		return nil, err
	}
	return &sw, nil
}

// List retrieves swaps, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*Swap, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/swaps"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp struct {
		Swaps []*Swap `json:"swaps"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Swaps, nil
}

// Version returns the source daemon's version object unchanged.
func (c *Client) Version(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/getversion", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var version json.RawMessage
	if err := c.do(req, &version); err != nil {
		return nil, err
	}
	return version, nil
}

// Health returns nil if the server and its database are up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

// WaitProcessed polls Get until the swap is processed or ctx is done.
// onPoll, if set, sees every intermediate record.
func (c *Client) WaitProcessed(ctx context.Context, txid string, interval time.Duration, onPoll func(*Swap)) (*Swap, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sw, err := c.Get(ctx, txid)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(sw)
		}
		if sw.Status == StatusProcessed {
			return sw, nil
		}

		select {
		case <-ctx.Done():
			return sw, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do sends req and decodes a 200 response into out (skipped when out is nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Reason: errResp.Reason}
}
