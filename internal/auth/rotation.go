// rotation.go implements refresh token rotation with family-wide reuse
// detection. Every login starts a family; every successful refresh revokes
// the presented token and issues a successor in the same family. A presented
// token that matches a revoked record — or matches nothing in its claimed
// family — is treated as evidence of theft, and the entire family dies so
// neither the attacker nor the legitimate holder keeps a working session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/crypto"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// Rotation rejections. The HTTP layer maps all three to the same generic
// credential error; they stay distinct here for logs, events, and tests.
var (
	// ErrInvalidRefreshToken means the presented token failed JWT
	// verification. Storage was never touched.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshReused means the token verified but is not the live member of
	// its family: either it was already rotated away, or nothing in the
	// claimed family matches it. The family has been revoked.
	ErrRefreshReused = errors.New("refresh token reuse detected")

	// ErrUserNotFound means the token is legitimate but its account no longer
	// exists.
	ErrUserNotFound = errors.New("user not found")
)

// TokenPair is the result of a login, registration, or rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RefreshTokenStore is the slice of the refresh token repository the engine
// needs.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByFamily(ctx context.Context, family string) ([]*models.RefreshToken, error)
	RevokeByID(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, family string) error
}

// RotationEngine owns the refresh token lifecycle.
type RotationEngine struct {
	tokens *TokenService
	store  RefreshTokenStore
	users  UserStore
	hasher *crypto.Hasher
	events *audit.Recorder
	now    func() time.Time
}

// NewRotationEngine wires the rotation flow.
func NewRotationEngine(tokens *TokenService, store RefreshTokenStore, users UserStore, hasher *crypto.Hasher, events *audit.Recorder) *RotationEngine {
	return &RotationEngine{
		tokens: tokens,
		store:  store,
		users:  users,
		hasher: hasher,
		events: events,
		now:    time.Now,
	}
}

// IssuePair starts a fresh token family for a user who just proved their
// identity with a password. Used by login and registration.
func (e *RotationEngine) IssuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	return e.issue(ctx, user, uuid.New().String())
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// verified, located within its claimed family by digest comparison, revoked,
// and succeeded by a new token in the same family. Reuse of a stale token
// revokes the whole family.
func (e *RotationEngine) Rotate(ctx context.Context, rawToken, clientIP string) (*TokenPair, error) {
	claims, err := e.tokens.VerifyRefresh(rawToken)
	if err != nil {
		telemetry.TokenRotationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidRefreshToken
	}

	records, err := e.store.FindByFamily(ctx, claims.Family)
	if err != nil {
		telemetry.TokenRotationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load token family: %w", err)
	}

	// Digest-compare against every record. The digests are salted, so the
	// presented token has to be verified against each one individually.
	var matched *models.RefreshToken
	for _, record := range records {
		if e.hasher.Verify(rawToken, record.TokenHash) && matched == nil {
			matched = record
		}
	}

	// A verified token that matches nothing, or matches a record already
	// rotated away, is a replay. Kill the family.
	if matched == nil || matched.IsRevoked() {
		if err := e.store.RevokeFamily(ctx, claims.Family); err != nil {
			telemetry.TokenRotationsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to revoke token family: %w", err)
		}

		telemetry.TokenRotationsTotal.WithLabelValues("reuse_detected").Inc()
		slog.Warn("refresh token reuse detected, family revoked",
			"user_id", claims.UserID,
			"family", claims.Family,
			"ip", clientIP,
		)
		e.events.Record(models.EventRefresh, models.OutcomeReuseDetected, claims.UserID, clientIP, map[string]interface{}{
			"family": claims.Family,
		})
		return nil, ErrRefreshReused
	}

	user, err := e.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		telemetry.TokenRotationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		telemetry.TokenRotationsTotal.WithLabelValues("user_not_found").Inc()
		e.events.Record(models.EventRefresh, models.OutcomeFailure, claims.UserID, clientIP, map[string]interface{}{
			"reason": "user_not_found",
			"family": claims.Family,
		})
		return nil, ErrUserNotFound
	}

	if err := e.store.RevokeByID(ctx, matched.ID); err != nil {
		telemetry.TokenRotationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to revoke rotated token: %w", err)
	}

	pair, err := e.issue(ctx, user, claims.Family)
	if err != nil {
		telemetry.TokenRotationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	telemetry.TokenRotationsTotal.WithLabelValues("rotated").Inc()
	e.events.Record(models.EventRefresh, models.OutcomeSuccess, user.ID, clientIP, map[string]interface{}{
		"family": claims.Family,
	})
	return pair, nil
}

// Logout revokes the presented token's family, best effort: an invalid or
// already-dead token produces the same silence as a live one, so logout can
// never be used to probe session validity.
func (e *RotationEngine) Logout(ctx context.Context, rawToken, clientIP string) {
	claims, err := e.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return
	}

	if err := e.store.RevokeFamily(ctx, claims.Family); err != nil {
		slog.Warn("failed to revoke family on logout", "family", claims.Family, "error", err)
		return
	}

	e.events.Record(models.EventLogout, models.OutcomeSuccess, claims.UserID, clientIP, map[string]interface{}{
		"family": claims.Family,
	})
}

// issue mints an access + refresh pair in the given family and persists the
// refresh digest.
func (e *RotationEngine) issue(ctx context.Context, user *models.User, family string) (*TokenPair, error) {
	refreshToken, err := e.tokens.IssueRefresh(user.ID, family)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	digest, err := e.hasher.Hash(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh token: %w", err)
	}

	record := &models.RefreshToken{
		UserID:    user.ID,
		Family:    family,
		TokenHash: digest,
		ExpiresAt: e.now().Add(e.tokens.RefreshTTL()),
	}
	if err := e.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	accessToken, err := e.tokens.IssueAccess(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
