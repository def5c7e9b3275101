// Package models defines the database model types for agentplane.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the auth core, query logic in the repositories layer.
package models

import "time"

// Roles a user account can hold. Authorization always consults the stored
// role, not a role embedded in a token (see the auth middleware).
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a platform account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // argon2id PHC digest, never the plaintext
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the account holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
