// scopes.go defines the permission scopes carried by API keys and provides
// HasScope, HasAnyScope, and HasAllScopes helpers for scope checking. JWT
// sessions are not scope-limited; scopes only narrow what an API key may do
// relative to its owning user.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Agent scopes
	ScopeAgentsRead  Scope = "agents:read"
	ScopeAgentsWrite Scope = "agents:write"

	// Session scopes
	ScopeSessionsRead  Scope = "sessions:read"
	ScopeSessionsWrite Scope = "sessions:write"

	// Message scopes
	ScopeMessagesRead  Scope = "messages:read"
	ScopeMessagesWrite Scope = "messages:write"

	// API key management scopes
	ScopeKeysRead  Scope = "keys:read"  // List own keys
	ScopeKeysWrite Scope = "keys:write" // Create and revoke own keys

	// Billing scopes (read-only; billing mutations never happen over API keys)
	ScopeBillingRead Scope = "billing:read"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// readImpliedBy maps each read scope to the write scope that implies it.
var readImpliedBy = map[Scope]Scope{
	ScopeAgentsRead:   ScopeAgentsWrite,
	ScopeSessionsRead: ScopeSessionsWrite,
	ScopeMessagesRead: ScopeMessagesWrite,
	ScopeKeysRead:     ScopeKeysWrite,
}

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeAgentsRead,
		ScopeAgentsWrite,
		ScopeSessionsRead,
		ScopeSessionsWrite,
		ScopeMessagesRead,
		ScopeMessagesWrite,
		ScopeKeysRead,
		ScopeKeysWrite,
		ScopeBillingRead,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	validScopes := ValidScopes()
	if !validScopes[scope] {
		return errors.New("invalid scope")
	}
	return nil
}

// HasScope checks if a scope list grants a required scope. The admin scope
// is a wildcard, and a write scope implies the read scope for the same
// resource.
func HasScope(userScopes []string, required Scope) bool {
	implying, hasImplying := readImpliedBy[required]

	for _, scope := range userScopes {
		if scope == string(required) {
			return true
		}

		if scope == string(ScopeAdmin) {
			return true
		}

		if hasImplying && scope == string(implying) {
			return true
		}
	}

	return false
}

// HasAnyScope checks if a scope list grants at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a scope list grants all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

// GetDefaultScopes returns the read-only scopes granted to a new API key
// when its creator does not name any.
func GetDefaultScopes() []string {
	return []string{
		string(ScopeAgentsRead),
		string(ScopeSessionsRead),
		string(ScopeMessagesRead),
	}
}
