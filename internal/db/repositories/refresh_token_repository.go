// refresh_token_repository.go implements RefreshTokenRepository over sqlx
// struct scanning. Rows are append-and-revoke only: nothing here deletes, so
// revoked tokens stay queryable as replay evidence.
package repositories

import (
	"context"
	"time"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RefreshTokenRepository handles refresh token database operations
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a freshly issued refresh token digest.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO refresh_tokens (id, user_id, family, token_hash, expires_at, revoked_at, created_at)
		VALUES (:id, :user_id, :family, :token_hash, :expires_at, :revoked_at, :created_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, token)
	return err
}

// FindByFamily loads every non-expired record in a family, revoked rows
// included on purpose: a revoked row matching a presented candidate is how
// replay of an already-rotated token is detected.
func (r *RefreshTokenRepository) FindByFamily(ctx context.Context, family string) ([]*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, family, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE family = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	tokens := make([]*models.RefreshToken, 0)
	if err := r.db.SelectContext(ctx, &tokens, query, family); err != nil {
		return nil, err
	}
	return tokens, nil
}

// RevokeByID revokes a single record; a no-op if it is already revoked.
func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, id string) error {
	query := `UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// RevokeFamily revokes every live record in a family. Called on reuse
// detection and on logout.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, family string) error {
	query := `UPDATE refresh_tokens SET revoked_at = NOW() WHERE family = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, family)
	return err
}

// RevokeAllForUser kills every live session of a user across all families.
// Called when an account is suspended.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE refresh_tokens SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}
