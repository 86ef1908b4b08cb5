// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// LedgerOperations counts borrow/return outcomes ("ok", "not_found", ...).
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_ledger_operations_total",
		Help: "Ledger operations by operation and outcome",
	}, []string{"op", "outcome"})

	LedgerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_ledger_retries_total",
		Help: "Retried store attempts by operation",
	}, []string{"op"})

	// LedgerInconsistencies counts compensations that gave up and need manual repair.
	LedgerInconsistencies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_ledger_inconsistencies_total",
		Help: "Compensating writes that exhausted their retries",
	}, []string{"op"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_rate_limited_total",
		Help: "Requests rejected by the lending rate limiter",
	})
)
