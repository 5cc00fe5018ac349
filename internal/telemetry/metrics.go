// Package telemetry provides application-level observability for keygate.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<KG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router so the
// scrape path stays off the public ingress and outside the rate limiter.
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/proxy/:endpoint) rather than the raw request URL to prevent
// unbounded label cardinality from user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5m window):  rate(http_requests_total[5m])
//   - Error rate (%): sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// License ledger metrics.
//
// ValidationsTotal counts every validate call by outcome (valid, invalid_key,
// revoked, device_mismatch, maintenance, invalid_request, error). An alert on
// the rate of device_mismatch is a useful key-sharing signal.
//
// CreditChargesTotal counts meter charges by endpoint and outcome
// (charged, insufficient, binding_not_found, error).
var (
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_validations_total",
			Help: "Total number of license validation calls, by outcome.",
		},
		[]string{"outcome"},
	)

	CreditChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_charges_total",
			Help: "Total number of credit meter charge calls, by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
)

// Activity recorder metrics.
//
// ActivityEntriesDroppedTotal counts entries dropped because the recorder
// queue was full or the database write failed. Activity logging is
// fire-and-forget: this counter (plus server logs) is the ONLY place a lost
// entry is observable — callers never see the failure.
var ActivityEntriesDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "activity_entries_dropped_total",
		Help: "Total number of activity log entries dropped (queue full or write failure).",
	},
)

// ProviderRequestsTotal counts upstream social-data provider calls by endpoint
// and result (ok, error). A rising error rate here usually means the provider
// API key expired or the upstream is down.
var ProviderRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total number of upstream provider requests, by endpoint and result.",
	},
	[]string{"endpoint", "result"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in cmd/server:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
