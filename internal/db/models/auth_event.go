// auth_event.go defines the AuthEvent model recording security-relevant
// events: who, what, outcome, client IP, and arbitrary metadata. The specific
// rejection reasons the HTTP layer deliberately hides from clients are
// preserved here and in logs.
package models

import "time"

// Event types. Dot-form action names, resource first.
const (
	EventLogin      = "auth.login"
	EventRegister   = "auth.register"
	EventRefresh    = "auth.refresh"
	EventLogout     = "auth.logout"
	EventAPIKeyAuth = "auth.api_key"
	EventKeyCreate  = "api_key.create"
	EventKeyRevoke  = "api_key.revoke"
	EventRoleChange = "user.role_change"
	EventSuspend    = "user.suspend"
	EventReactivate = "user.reactivate"
)

// Event outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeReuseDetected = "reuse_detected"
	OutcomeRateLimited   = "rate_limited"
)

// AuthEvent is one row of the auth trail.
type AuthEvent struct {
	ID        string
	UserID    *string // nullable: failed logins may not resolve to an account
	EventType string
	Outcome   string
	IPAddress *string
	Metadata  map[string]interface{} // JSONB: additional context (reason, key prefix, target user)
	CreatedAt time.Time
}
