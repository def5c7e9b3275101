// metrics.go records the two request-level Prometheus series for every
// request that passes through the router.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/telemetry"
)

// Metrics records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request.
//
// The path label is taken from c.FullPath(), the matched route template
// (e.g. /v1/auth/login), never the raw URL. Requests that match no route
// (404/405) use the literal "<no-route>" so unhandled paths cannot inflate
// label cardinality.
//
// Register after gin.Recovery() and RequestID so the status written by error
// handlers is captured.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
