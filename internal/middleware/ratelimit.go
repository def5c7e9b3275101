// ratelimit.go guards the login endpoint with the shared per-IP limiter.
// Registration and refresh are not limited here: registration conflicts leak
// nothing verifiable, and refresh rotation already self-destructs a stolen
// family on first reuse.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/rate"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// LoginRateLimit counts every login attempt against the client IP and
// rejects with 429 once the window is exhausted. It runs before the handler
// so a blocked IP costs no password hashing and no user lookup. The login
// handler resets the counter after a successful password check.
func LoginRateLimit(limiter rate.Limiter, events *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !limiter.Allow(rate.LoginKey(clientIP)) {
			telemetry.RateLimitDeniedTotal.WithLabelValues("login").Inc()
			events.Record(models.EventLogin, models.OutcomeRateLimited, "", clientIP, nil)
			c.Header("Retry-After", "60")
			abortWithError(c, apperr.TooManyRequests("too many attempts, retry later"))
			return
		}
		c.Next()
	}
}
