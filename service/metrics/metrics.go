package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC Metrics
	ledgerRPCCallsTotal   *prometheus.CounterVec
	ledgerRPCCallDuration *prometheus.HistogramVec
	ledgerRPCRetries      *prometheus.CounterVec

	// Swap Intake Metrics
	swapSubmissionsTotal *prometheus.CounterVec
	swapTargetAmount     prometheus.Histogram

	// Reconciliation Metrics
	reconcileTickDuration  *prometheus.HistogramVec
	reconcileTicksTotal    *prometheus.CounterVec
	reconcileTicksSkipped  prometheus.Counter
	payoutsTotal           *prometheus.CounterVec
	payoutDuration         prometheus.Histogram
	pendingEligibleSwaps   prometheus.Gauge
	payoutsDeferredBackoff prometheus.Counter

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger RPC Metrics
		ledgerRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_calls_total",
				Help: "Total number of ledger wallet/daemon RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		ledgerRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_call_duration_seconds",
				Help:    "Duration of ledger RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method", "endpoint"},
		),
		ledgerRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_retries_total",
				Help: "Total number of ledger RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Swap Intake Metrics
		swapSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_submissions_total",
				Help: "Total number of swap submissions by outcome (accepted or rejection reason)",
			},
			[]string{"outcome"},
		),
		swapTargetAmount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swap_target_amount_atomic",
				Help:    "Target-ledger atomic amount of accepted swaps",
				Buckets: prometheus.ExponentialBuckets(1e6, 10, 10),
			},
		),

		// Reconciliation Metrics
		reconcileTickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_tick_duration_seconds",
				Help:    "Duration of reconciliation ticks in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		reconcileTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_ticks_total",
				Help: "Total number of reconciliation ticks by status",
			},
			[]string{"status"},
		),
		reconcileTicksSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_ticks_skipped_total",
				Help: "Ticks skipped because the previous tick was still running",
			},
		),
		payoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_payouts_total",
				Help: "Total number of payout attempts by status",
			},
			[]string{"status"},
		),
		payoutDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swap_payout_duration_seconds",
				Help:    "Duration of a payout attempt including the status update",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		pendingEligibleSwaps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "swap_pending_eligible",
				Help: "Number of pending swaps past the confirmation threshold at the last tick",
			},
		),
		payoutsDeferredBackoff: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "swap_payouts_deferred_total",
				Help: "Eligible swaps skipped because their payout is backing off",
			},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of swap events published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Ledger RPC metric helpers

// RecordRPCCall records a ledger RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.ledgerRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.ledgerRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.ledgerRPCRetries.WithLabelValues(method, reason).Inc()
}

// Swap intake metric helpers

// RecordSubmission records the outcome of one swap submission.
// outcome is "accepted" or a rejection reason.
func (m *Metrics) RecordSubmission(outcome string) {
	m.swapSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTargetAmount records the converted amount of an accepted swap.
func (m *Metrics) RecordTargetAmount(atomic int64) {
	m.swapTargetAmount.Observe(float64(atomic))
}

// Reconciliation metric helpers

// RecordTick records a completed reconciliation tick.
func (m *Metrics) RecordTick(status string, duration float64) {
	m.reconcileTickDuration.WithLabelValues(status).Observe(duration)
	m.reconcileTicksTotal.WithLabelValues(status).Inc()
}

// RecordTickSkipped records a tick that was not started because one was in flight.
func (m *Metrics) RecordTickSkipped() {
	m.reconcileTicksSkipped.Inc()
}

// RecordPayout records one payout attempt.
func (m *Metrics) RecordPayout(status string, duration float64) {
	m.payoutsTotal.WithLabelValues(status).Inc()
	m.payoutDuration.Observe(duration)
}

// RecordEligible sets the number of eligible swaps seen by the last tick.
func (m *Metrics) RecordEligible(count int) {
	m.pendingEligibleSwaps.Set(float64(count))
}

// RecordPayoutDeferred records an eligible swap skipped due to backoff.
func (m *Metrics) RecordPayoutDeferred() {
	m.payoutsDeferredBackoff.Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
