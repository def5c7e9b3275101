// auth_event_repository.go implements AuthEventRepository, providing database queries for
// writing and retrieving authentication events with support for filtered queries per user.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/google/uuid"
)

// AuthEventRepository handles auth event database operations
type AuthEventRepository struct {
	db *sql.DB
}

// NewAuthEventRepository creates a new AuthEventRepository
func NewAuthEventRepository(db *sql.DB) *AuthEventRepository {
	return &AuthEventRepository{db: db}
}

// AuthEventFilters contains filters for querying auth events
type AuthEventFilters struct {
	UserID    *string
	EventType *string
	Outcome   *string
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateAuthEvent creates a new auth event entry
func (r *AuthEventRepository) CreateAuthEvent(ctx context.Context, event *models.AuthEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	// Marshal metadata to JSONB
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO auth_events (id, user_id, event_type, outcome, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.EventType,
		event.Outcome,
		event.IPAddress,
		metadataJSON,
		event.CreatedAt,
	)

	return err
}

// ListAuthEvents retrieves auth events with optional filters and pagination
func (r *AuthEventRepository) ListAuthEvents(ctx context.Context, filters AuthEventFilters, limit, offset int) ([]*models.AuthEvent, int, error) {
	// Build query with filters
	countQuery := `SELECT COUNT(*) FROM auth_events WHERE 1=1`
	query := `
		SELECT id, user_id, event_type, outcome, ip_address, metadata, created_at
		FROM auth_events
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	// Apply filters
	if filters.UserID != nil {
		countQuery += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if filters.EventType != nil {
		countQuery += fmt.Sprintf(` AND event_type = $%d`, paramIndex)
		query += fmt.Sprintf(` AND event_type = $%d`, paramIndex)
		args = append(args, *filters.EventType)
		paramIndex++
	}

	if filters.Outcome != nil {
		countQuery += fmt.Sprintf(` AND outcome = $%d`, paramIndex)
		query += fmt.Sprintf(` AND outcome = $%d`, paramIndex)
		args = append(args, *filters.Outcome)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	// Get total count
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// Add ordering and pagination
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	// Execute query
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*models.AuthEvent, 0)
	for rows.Next() {
		event := &models.AuthEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.EventType,
			&event.Outcome,
			&event.IPAddress,
			&metadataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		// Unmarshal metadata from JSONB
		if metadataJSON != nil {
			err = json.Unmarshal(metadataJSON, &event.Metadata)
			if err != nil {
				return nil, 0, err
			}
		}

		events = append(events, event)
	}

	return events, total, rows.Err()
}

// GetAuthEvent retrieves a single auth event entry by ID
func (r *AuthEventRepository) GetAuthEvent(ctx context.Context, eventID string) (*models.AuthEvent, error) {
	query := `
		SELECT id, user_id, event_type, outcome, ip_address, metadata, created_at
		FROM auth_events
		WHERE id = $1
	`

	event := &models.AuthEvent{}
	var metadataJSON []byte

	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.ID,
		&event.UserID,
		&event.EventType,
		&event.Outcome,
		&event.IPAddress,
		&metadataJSON,
		&event.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	// Unmarshal metadata from JSONB
	if metadataJSON != nil {
		err = json.Unmarshal(metadataJSON, &event.Metadata)
		if err != nil {
			return nil, err
		}
	}

	return event, nil
}
