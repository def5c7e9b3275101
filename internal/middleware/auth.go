// Package middleware provides the Gin middleware chain for authentication,
// authorization, rate limiting, security headers, and request plumbing.
//
// Ordering matters and is enforced in api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → RateLimit → Auth → RBAC → Handler
//
// Security headers and CORS run early so they appear on every response,
// including errors. Rate limiting runs before credential verification so
// brute force is cut off before any Argon2id or database work. Auth attaches
// the principal; RBAC reads it.
package middleware

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/auth"
	"github.com/agentplane/agentplane/internal/cache"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// Context keys populated by RequireAuth. PrincipalKey holds the
// *auth.Principal; UserIDKey and AuthMethodKey are convenience copies for
// handlers and log enrichment that only need the strings.
const (
	PrincipalKey  = "principal"
	UserIDKey     = "user_id"
	AuthMethodKey = "auth_method"
)

// UserStatusSource reports the live account state backing a verified token.
// Implemented by cache.UserStatusCache.
type UserStatusSource interface {
	Get(ctx context.Context, userID string) (*cache.UserStatus, error)
}

// APIKeyVerifier turns a raw API key into a principal. Implemented by
// auth.APIKeyAuthenticator.
type APIKeyVerifier interface {
	Authenticate(ctx context.Context, rawKey, clientIP string) (*auth.Principal, error)
}

// RequireAuth authenticates the request from its Authorization header and
// attaches the resulting principal to the context.
//
// The bearer value is dispatched by shape: anything carrying the API key
// prefix goes to the key verifier, everything else is treated as a JWT. A
// JWT that verifies is then checked against the live account state so
// suspensions and role changes take effect within the cache TTL instead of
// the token lifetime. If that freshness check itself fails, the request is
// admitted on the token's claims alone: the signature already proved
// identity, and a cache or storage outage must not take down every
// authenticated route. The staleness window is bounded by the access TTL.
func RequireAuth(tokens *auth.TokenService, statuses UserStatusSource, apiKeys APIKeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		if auth.LooksLikeAPIKey(credential) {
			principal, err := apiKeys.Authenticate(c.Request.Context(), credential, c.ClientIP())
			if err != nil {
				abortWithError(c, apperr.From(err))
				return
			}
			setPrincipal(c, principal)
			c.Next()
			return
		}

		claims, err := tokens.VerifyAccess(credential)
		if err != nil {
			telemetry.AuthAttemptsTotal.WithLabelValues(auth.MethodJWT, "invalid").Inc()
			abortWithError(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		principal := &auth.Principal{
			UserID: claims.UserID,
			Email:  claims.Email,
			Role:   claims.Role,
			Method: auth.MethodJWT,
		}

		status, err := statuses.Get(c.Request.Context(), claims.UserID)
		switch {
		case err != nil:
			telemetry.AuthFailOpenTotal.Inc()
			slog.Error("user status check failed, admitting on token claims",
				"user_id", claims.UserID,
				"error", err,
			)
		case status == nil:
			// Account deleted after the token was minted.
			telemetry.AuthAttemptsTotal.WithLabelValues(auth.MethodJWT, "not_found").Inc()
			abortWithError(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		case !status.IsActive:
			telemetry.AuthAttemptsTotal.WithLabelValues(auth.MethodJWT, "suspended").Inc()
			abortWithError(c, apperr.Forbidden("account suspended"))
			return
		default:
			// The stored role wins over whatever the token was minted with.
			principal.Role = status.Role
		}

		telemetry.AuthAttemptsTotal.WithLabelValues(auth.MethodJWT, "success").Inc()
		setPrincipal(c, principal)
		c.Next()
	}
}

// CurrentPrincipal returns the principal attached by RequireAuth.
func CurrentPrincipal(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := v.(*auth.Principal)
	return principal, ok
}

func setPrincipal(c *gin.Context, principal *auth.Principal) {
	c.Set(PrincipalKey, principal)
	c.Set(UserIDKey, principal.UserID)
	c.Set(AuthMethodKey, principal.Method)
}

// abortWithError writes the uniform error envelope and stops the chain. The
// apperr JSON tags shape the nested error object to {code, message}.
func abortWithError(c *gin.Context, appErr *apperr.Error) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"success": false,
		"error":   appErr,
	})
}
