package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/swap", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc123xyz9", body["transactionId"])
		assert.Equal(t, "SW1abc456def", body["swapAddress"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": "swap accepted",
			"swap": map[string]interface{}{
				"txid":          "abc123xyz9",
				"target_amount": 500000000000,
				"status":        "pending",
			},
		})
	}))
	defer server.Close()

	res, err := NewClient(server.URL, nil, nil).Submit(context.Background(), "abc123xyz9", "SW1abc456def")
	require.NoError(t, err)
	assert.Equal(t, "swap accepted", res.Success)
	require.NotNil(t, res.Swap)
	assert.Equal(t, int64(500000000000), res.Swap.TargetAmount)
	assert.Equal(t, StatusPending, res.Swap.Status)
}

func TestSubmit_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "swap already submitted for this transaction",
			"reason": "duplicate",
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Submit(context.Background(), "abc123xyz9", "SW1abc456def")
	require.Error(t, err)
	assert.Equal(t, "duplicate", ReasonOf(err))
	assert.Contains(t, err.Error(), "already submitted")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/swaps/nonexistent", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "swap not found"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swap not found")
	assert.Equal(t, "", ReasonOf(err))
}

func TestList_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/swaps", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "", r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"swaps": []map[string]interface{}{
				{"txid": "abc123xyz9", "status": "pending"},
				{"txid": "def456uvw8", "status": "pending"},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	swaps, err := NewClient(server.URL, nil, nil).List(context.Background(), ListOptions{Status: "pending", Limit: 5})
	require.NoError(t, err)
	require.Len(t, swaps, 2)
	assert.Equal(t, "def456uvw8", swaps[1].Txid)
}

func TestVersion_Passthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/getversion", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"release":true,"version":196613}`))
	}))
	defer server.Close()

	v, err := NewClient(server.URL, nil, nil).Version(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"release":true,"version":196613}`, string(v))
}

func TestHealth(t *testing.T) {
	var unhealthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"database unavailable"}`))
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	assert.NoError(t, c.Health(context.Background()))

	unhealthy.Store(true)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestWaitProcessed(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if polls.Add(1) >= 3 {
			status = "processed"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"txid":        "abc123xyz9",
			"status":      status,
			"target_txid": "payout-hash",
		})
	}))
	defer server.Close()

	var seen []string
	sw, err := NewClient(server.URL, nil, nil).WaitProcessed(context.Background(), "abc123xyz9", 10*time.Millisecond, func(s *Swap) {
		seen = append(seen, s.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, sw.Status)
	require.NotNil(t, sw.TargetTxid)
	assert.Equal(t, "payout-hash", *sw.TargetTxid)
	assert.Equal(t, []string{"pending", "pending", "processed"}, seen)
}

func TestWaitProcessed_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"txid": "abc123xyz9", "status": "pending"})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, nil, nil).WaitProcessed(ctx, "abc123xyz9", 10*time.Millisecond, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
