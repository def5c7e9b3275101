// api_key.go defines the APIKey model for static programmatic credentials.
package models

import "time"

// APIKey represents a static API key record. The plaintext key
// (sk_live_<payload>) is shown to its creator exactly once; only the 12-char
// prefix and the salted digest persist.
type APIKey struct {
	ID          string
	UserID      string
	Name        string   // friendly label (e.g. "CI pipeline")
	KeyPrefix   string   // first 12 chars of the full key, the lookup handle
	KeyHash     string   // argon2id PHC digest of the full key
	Permissions []string // JSONB array: ["agents:read", "keys:write", ...]
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the key's optional expiry has passed at now.
// Keys without an expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}
