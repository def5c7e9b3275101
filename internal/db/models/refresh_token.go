// refresh_token.go defines the RefreshToken record backing the rotation
// protocol. Rows are never deleted, only revoked: a revoked row matching a
// presented token is the evidence that the token was stolen and replayed.
package models

import "time"

// RefreshToken is one stored member of a token family. Family groups every
// token descended from a single login; TokenHash is a salted argon2id digest
// of the raw JWT, so matching a candidate requires the hasher's verify, never
// a string compare. Tagged for sqlx row scanning.
type RefreshToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	Family    string     `db:"family"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// IsExpired reports whether the record's lifetime has passed at instant now.
// The caller supplies the clock so rotation logic stays testable.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsRevoked reports whether the record has been rotated away or killed by a
// family revocation.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsLive reports whether the record can still legitimately rotate: not
// revoked and not expired.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}
