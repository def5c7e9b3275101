// Package telemetry provides application-level observability for agentplane.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<AP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router, so scraping traffic never passes through the auth middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authentication attempt counters by credential method and outcome
//   - Refresh-token rotation counters (including reuse detections)
//   - Rate limiter denial counters
//   - User status cache hit/miss counters and fail-open counter
//   - API keys approaching expiry gauge (set by the background scan)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/auth/login) rather
// than the raw request URL to prevent unbounded label cardinality.  Auth metrics
// never carry user identifiers or key prefixes as labels for the same reason —
// per-principal investigation belongs in the auth_events table, not in metrics.
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
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/auth/refresh),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - 401 rate on the refresh route:     rate(http_requests_total{path="/v1/auth/refresh",status="401"}[5m])
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
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

// Authentication metrics — recorded by the auth middleware and the API key
// authenticator.
//
// AuthAttemptsTotal is a CounterVec with labels {method, outcome}.
// method: "jwt" or "api_key".  outcome: "success", "invalid", "rate_limited",
// "suspended", "not_found", or "error".
//
// Example PromQL queries:
//   - Credential-stuffing signal:  rate(auth_attempts_total{outcome="invalid"}[5m])
//   - API key error budget:        rate(auth_attempts_total{method="api_key",outcome="error"}[5m])
//
// AuthFailOpenTotal counts requests admitted on the strength of their token
// alone because the live account-status check failed.  A sustained non-zero
// rate means authorization freshness is degraded and the user store needs
// attention.
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts, by credential method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	AuthFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_fail_open_total",
			Help: "Requests admitted with token claims only because the account status check failed.",
		},
	)
)

// TokenRotationsTotal is a CounterVec with label {outcome} recorded by the
// refresh rotation engine.  outcome: "rotated", "reuse_detected", "invalid",
// "user_not_found", or "error".
//
// Example PromQL queries:
//   - Theft signal (alert > 0):  increase(token_rotations_total{outcome="reuse_detected"}[15m])
//   - Rotation success ratio:    rate(token_rotations_total{outcome="rotated"}[1h]) / rate(token_rotations_total[1h])
var TokenRotationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_rotations_total",
		Help: "Total number of refresh token rotation attempts, by outcome.",
	},
	[]string{"outcome"},
)

// RateLimitDeniedTotal is a CounterVec with label {scope} incremented each time
// the rate limiter denies an attempt.  scope: "ip" or "key_prefix" for the API
// key path, "login" for the login endpoint.
//
// Example PromQL queries:
//   - Brute force pressure by scope:  sum by (scope) (rate(rate_limit_denied_total[5m]))
var RateLimitDeniedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_denied_total",
		Help: "Total number of attempts denied by the rate limiter, by limiter scope.",
	},
	[]string{"scope"},
)

// User status cache metrics — recorded by the read-through cache that backs
// the auth middleware's freshness check.
//
// Example PromQL queries:
//   - Hit ratio:  rate(user_status_cache_hits_total[5m]) / (rate(user_status_cache_hits_total[5m]) + rate(user_status_cache_misses_total[5m]))
var (
	UserStatusCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "user_status_cache_hits_total",
			Help: "Total number of user status lookups served from the in-process cache.",
		},
	)

	UserStatusCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "user_status_cache_misses_total",
			Help: "Total number of user status lookups that fell through to storage.",
		},
	)
)

// APIKeysExpiringSoon is a Gauge set by the expiring-key background scan to the
// number of active API keys that will expire within the configured warning
// window.  Alert when it stays non-zero across several scan intervals.
var APIKeysExpiringSoon = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "api_keys_expiring_soon",
		Help: "Number of active API keys expiring within the warning window, per the last scan.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
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
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database.DB)
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
