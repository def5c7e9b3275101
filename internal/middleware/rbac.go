// rbac.go implements role and scope checks on top of the principal attached
// by RequireAuth.
//
// Role is checked against the resolved principal, which for JWT sessions is
// the live stored role, not the role minted into the token. A demoted admin
// loses admin routes within the status cache TTL without any token
// revocation. Scopes only constrain API keys: a browser session acts with
// the user's full authority, while a key is deliberately limited to the
// permissions granted at creation.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/auth"
)

// RequireAdmin rejects principals whose resolved role is not admin. Must be
// registered after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			abortWithError(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}
		if !principal.IsAdmin() {
			abortWithError(c, apperr.Forbidden("admin role required"))
			return
		}
		c.Next()
	}
}

// RequireScope rejects API key principals that were not granted the scope.
// JWT principals pass unconditionally. Must be registered after RequireAuth.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			abortWithError(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}
		if !principal.Can(scope) {
			abortWithError(c, apperr.Forbidden("missing required scope: "+string(scope)))
			return
		}
		c.Next()
	}
}
