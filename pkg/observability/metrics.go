// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the portcullis gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthBuckets defines histogram buckets suited for auth sub-request
// latencies, ranging from 1ms to 5s.
var AuthBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}

var (
	// RequestsTotal counts all HTTP requests by method, path, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by path.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portcullis_request_duration_seconds",
			Help:    "Request duration",
			Buckets: AuthBuckets,
		},
		[]string{"path"},
	)

	// DecisionsTotal counts forward-auth decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_decisions_total",
			Help: "Forward-auth decisions",
		},
		[]string{"outcome"},
	)

	// LoginsTotal counts sign-in attempts by result.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_logins_total",
			Help: "Sign-in attempts",
		},
		[]string{"result"},
	)

	// SeedOperationsTotal counts seed reconciliation outcomes by entity
	// kind and action.
	SeedOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_seed_operations_total",
			Help: "Seed reconciliation outcomes",
		},
		[]string{"kind", "action"},
	)

	// StoreErrorsTotal counts identity store failures surfaced to callers.
	StoreErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portcullis_store_errors_total",
			Help: "Identity store failures",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DecisionsTotal,
		LoginsTotal,
		SeedOperationsTotal,
		StoreErrorsTotal,
	)
}
