package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/ledgerswap/service/db"
	"github.com/brojonat/ledgerswap/service/metrics"
)

// SwapSubmitter accepts swap requests. *swap.Intake implements it.
type SwapSubmitter interface {
	Submit(ctx context.Context, transactionID, targetAddress string) (*db.Swap, error)
}

// VersionSource answers the daemon version query. *ledger.Client implements it.
type VersionSource interface {
	GetVersion(ctx context.Context) (json.RawMessage, error)
}

// SwapReader is the read side of the swap store used by the lookup routes.
type SwapReader interface {
	GetSwap(ctx context.Context, txid string) (*db.Swap, error)
	ListSwaps(ctx context.Context, params db.ListSwapsParams) ([]*db.Swap, error)
	Ping(ctx context.Context) error
}

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second

	// DefaultSubmitTimeout bounds a swap submission so its response is
	// written before writeTimeout cuts the connection.
	DefaultSubmitTimeout = 10 * time.Second
)

// Server represents the HTTP server for the swap service.
type Server struct {
	addr          string
	submitTimeout time.Duration
	intake        SwapSubmitter
	daemon        VersionSource
	store         SwapReader
	stream        *EventStream
	metrics       *metrics.Metrics
	logger        *slog.Logger
	server        *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, intake SwapSubmitter, daemon VersionSource, store SwapReader, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:          addr,
		submitTimeout: DefaultSubmitTimeout,
		intake:        intake,
		daemon:        daemon,
		store:         store,
		metrics:       m,
		logger:        logger,
	}
}

// WithEventStream enables the swap event SSE route.
func (s *Server) WithEventStream(stream *EventStream) *Server {
	s.stream = stream
	return s
}

// WithSubmitTimeout overrides DefaultSubmitTimeout. Values outside
// (0, writeTimeout) are ignored.
func (s *Server) WithSubmitTimeout(d time.Duration) *Server {
	if d > 0 && d < writeTimeout {
		s.submitTimeout = d
	}
	return s
}

// Handler builds the routed, wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("POST /api/swap", "/api/swap", handleSubmitSwap(s.intake, s.submitTimeout, s.logger))
	route("GET /api/getversion", "/api/getversion", handleGetVersion(s.daemon, s.logger))
	route("GET /api/swaps/{txid}", "/api/swaps/{txid}", handleGetSwap(s.store, s.logger))
	route("GET /api/swaps", "/api/swaps", handleListSwaps(s.store, s.logger))

	if s.stream != nil {
		mux.Handle("GET /api/stream/swaps", handleStreamSwaps(s.stream, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	}

	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return requestIDMiddleware(corsMiddleware(mux))
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	if s.stream != nil {
		// Streams are long-lived.
		s.server.WriteTimeout = 0
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the stream first so open SSE clients return.
	if s.stream != nil {
		s.stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// requestID returns the id assigned by requestIDMiddleware, or "".
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
