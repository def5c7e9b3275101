package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request
	// identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is
	// stored so handlers and other middleware can read it without parsing
	// headers.
	RequestIDKey = "request_id"
)

// RequestID ensures every request carries a unique identifier. An inbound
// X-Request-ID (set by a load balancer or gateway) is reused unchanged;
// otherwise a fresh UUID is generated. The value is stored in the context
// under RequestIDKey and echoed back in the response header so clients can
// correlate their request with server-side log entries.
//
// Register this right after gin.Recovery() so all downstream logging,
// including the request logger, carries the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
