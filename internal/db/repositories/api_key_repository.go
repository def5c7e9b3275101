// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by prefix, creation, revocation, expiry scans, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/google/uuid"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey persists a new API key record. Only the prefix and digest are
// stored; the caller holds the plaintext exactly as long as the response.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()

	// Marshal permissions to JSONB
	permissionsJSON, err := json.Marshal(apiKey.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, permissions, expires_at, revoked_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.UserID,
		apiKey.Name,
		apiKey.KeyPrefix,
		apiKey.KeyHash,
		permissionsJSON,
		apiKey.ExpiresAt,
		apiKey.RevokedAt,
		apiKey.LastUsedAt,
		apiKey.CreatedAt,
	)

	return err
}

// GetAPIKeysByPrefix retrieves the non-revoked keys matching a 12-char prefix.
// Prefix collisions are rare but legal, so this returns a slice; the
// authenticator verifies the digest of every candidate.
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, permissions, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, keyPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, permissions, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE id = $1
	`

	apiKey := &models.APIKey{}
	var permissionsJSON []byte

	err := r.db.QueryRowContext(ctx, query, keyID).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.Name,
		&apiKey.KeyPrefix,
		&apiKey.KeyHash,
		&permissionsJSON,
		&apiKey.ExpiresAt,
		&apiKey.RevokedAt,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	// Unmarshal permissions from JSONB
	if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
		return nil, err
	}

	return apiKey, nil
}

// ListAPIKeysByUser retrieves all of a user's API keys, revoked ones included
// so the owner can see their key history.
func (r *APIKeyRepository) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, permissions, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	query := `
		UPDATE api_keys
		SET last_used_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, keyID, time.Now())
	return err
}

// RevokeAPIKey marks a key revoked. Rows are kept, not deleted, so the key
// history stays auditable; a no-op if already revoked.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, keyID)
	return err
}

// FindExpiringKeys returns live keys whose expiry falls within warningDays
// from now, for the background expiry scan.
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	cutoff := time.Now().Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `
		SELECT id, user_id, name, key_prefix, key_hash, permissions, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= $1
		  AND revoked_at IS NULL
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

// scanAPIKeys drains a result set whose columns match the canonical api_keys
// select list, unmarshalling the permissions JSONB per row.
func scanAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		apiKey := &models.APIKey{}
		var permissionsJSON []byte

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.UserID,
			&apiKey.Name,
			&apiKey.KeyPrefix,
			&apiKey.KeyHash,
			&permissionsJSON,
			&apiKey.ExpiresAt,
			&apiKey.RevokedAt,
			&apiKey.LastUsedAt,
			&apiKey.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			return nil, err
		}

		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}
