// principal.go defines the authenticated identity the middleware attaches to
// a request once a credential has been verified.
package auth

import "github.com/agentplane/agentplane/internal/db/models"

// Credential method labels, used on the principal and as the method label of
// the auth attempt metrics.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Principal is the verified identity behind a request.
type Principal struct {
	UserID string
	Email  string
	Role   string
	Method string
	// Permissions is the API key's scope list. It is nil for JWT principals,
	// which carry the full authority of their role.
	Permissions []string
}

// IsAdmin reports whether the principal's resolved role is admin.
func (p *Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// Can reports whether the principal may perform an operation guarded by the
// given scope. Only API key principals are scope-limited.
func (p *Principal) Can(required Scope) bool {
	if p.Method != MethodAPIKey {
		return true
	}
	return HasScope(p.Permissions, required)
}
