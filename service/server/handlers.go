package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/swap"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxListLimit       = 1000
)

// submitSwapRequest is the body of POST /api/swap.
type submitSwapRequest struct {
	TransactionID string `json:"transactionId"`
	SwapAddress   string `json:"swapAddress"`
}

// submitSwapResponse is returned when a swap is accepted.
type submitSwapResponse struct {
	Success string   `json:"success"`
	Swap    *db.Swap `json:"swap"`
}

// errorResponse is returned for every rejection.
type errorResponse struct {
	Error  string      `json:"error"`
	Reason swap.Reason `json:"reason,omitempty"`
}

// handleSubmitSwap returns a handler that accepts a swap request.
// POST /api/swap
// Request body: {"transactionId": "...", "swapAddress": "..."}
// Form-encoded bodies with the same field names are accepted too.
// The submission runs under timeout so the caller always gets a response.
func handleSubmitSwap(intake SwapSubmitter, timeout time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		req, err := decodeSubmitRequest(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.Debug("invalid swap request body", "error", err)
			writeJSON(w, errorResponse{Error: "invalid request body", Reason: swap.ReasonValidation}, http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		sw, err := intake.Submit(ctx, req.TransactionID, req.SwapAddress)
		if err != nil {
			reason := swap.ReasonOf(err)
			status := statusForReason(reason)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Warn("swap submission timed out",
					"txid", req.TransactionID,
					"timeout", timeout,
					"request_id", requestID(r.Context()),
					"error", err,
				)
				writeJSON(w, errorResponse{Error: "swap submission timed out, nothing was stored", Reason: reason}, http.StatusGatewayTimeout)
				return
			}
			if status >= http.StatusInternalServerError {
				logger.Error("swap submission failed",
					"txid", req.TransactionID,
					"reason", reason,
					"request_id", requestID(r.Context()),
					"error", err,
				)
			}
			writeJSON(w, errorResponse{Error: swap.PublicMessage(err), Reason: reason}, status)
			return
		}

		writeJSON(w, submitSwapResponse{
			Success: fmt.Sprintf("swap accepted, %d will be sent to %s once the transaction is confirmed", sw.TargetAmount, sw.TargetAddress),
			Swap:    sw,
		}, http.StatusOK)
	})
}

func decodeSubmitRequest(r *http.Request) (submitSwapRequest, error) {
	var req submitSwapRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.TransactionID = r.PostForm.Get("transactionId")
		req.SwapAddress = r.PostForm.Get("swapAddress")
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// statusForReason maps the rejection taxonomy onto HTTP status codes.
func statusForReason(reason swap.Reason) int {
	switch reason {
	case swap.ReasonValidation:
		return http.StatusBadRequest
	case swap.ReasonNotFound:
		return http.StatusNotFound
	case swap.ReasonDuplicate:
		return http.StatusConflict
	case swap.ReasonConversion:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleGetVersion returns a handler that passes the daemon's version through unchanged.
// GET /api/getversion
func handleGetVersion(daemon VersionSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version, err := daemon.GetVersion(r.Context())
		if err != nil {
			logger.Warn("failed to get daemon version", "error", err)
			writeError(w, "daemon unavailable", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(version)
	})
}

// handleGetSwap returns a handler that retrieves one swap.
// GET /api/swaps/{txid}
func handleGetSwap(store SwapReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txid := r.PathValue("txid")
		if txid == "" || len(txid) > 256 {
			writeError(w, "invalid transaction id", http.StatusBadRequest)
			return
		}

		sw, err := store.GetSwap(r.Context(), txid)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "swap not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get swap", "txid", txid, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, sw, http.StatusOK)
	})
}

// handleListSwaps returns a handler that lists swaps, newest first.
// GET /api/swaps?status=pending|processed&limit=N&offset=N
func handleListSwaps(store SwapReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := db.ListSwapsParams{Limit: db.DefaultListLimit}

		if s := query.Get("status"); s != "" {
			status, err := db.ParseStatus(s)
			if err != nil {
				writeError(w, "status must be pending or processed", http.StatusBadRequest)
				return
			}
			params.Status = &status
		}

		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			params.Limit = int32(parsedLimit)
		}

		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			params.Offset = int32(parsedOffset)
		}

		swaps, err := store.ListSwaps(r.Context(), params)
		if err != nil {
			logger.Error("failed to list swaps", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if swaps == nil {
			swaps = []*db.Swap{}
		}

		writeJSON(w, map[string]interface{}{
			"swaps":  swaps,
			"count":  len(swaps),
			"limit":  params.Limit,
			"offset": params.Offset,
		}, http.StatusOK)
	})
}

// handleHealth returns a handler that reports whether the database is reachable.
// GET /health
func handleHealth(store SwapReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", "error", err)
			writeError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, errorResponse{Error: message}, statusCode)
}
