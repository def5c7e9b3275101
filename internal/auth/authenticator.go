// authenticator.go implements request-time API key verification. The flow is
// deliberately rigid: format gate, rate limit by client IP and by lookup
// prefix, candidate fetch, then the same amount of Argon2id work no matter
// how many candidates came back — a dummy verification runs when there are
// none and matching never short-circuits, so response timing does not reveal
// whether a prefix exists in the database.
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/crypto"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/rate"
	"github.com/agentplane/agentplane/internal/safego"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// lastUsedTimeout bounds the background last_used stamp so it cannot pile up
// goroutines behind a wedged database.
const lastUsedTimeout = 5 * time.Second

// KeyStore is the slice of the API key repository the authenticator needs.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// UserStore resolves a key's owning account.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// APIKeyAuthenticator verifies raw API keys into principals.
type APIKeyAuthenticator struct {
	enabled bool
	keys    KeyStore
	users   UserStore
	hasher  *crypto.Hasher
	limiter rate.Limiter
	events  *audit.Recorder
	now     func() time.Time
}

// NewAPIKeyAuthenticator wires the verification flow. enabled reflects the
// capability switch (config.APIKeyAuthEnabled); when false every attempt is
// rejected with the generic credential error.
func NewAPIKeyAuthenticator(enabled bool, keys KeyStore, users UserStore, hasher *crypto.Hasher, limiter rate.Limiter, events *audit.Recorder) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		enabled: enabled,
		keys:    keys,
		users:   users,
		hasher:  hasher,
		limiter: limiter,
		events:  events,
		now:     time.Now,
	}
}

// Authenticate verifies rawKey and returns the principal it grants. Every
// rejection reason a client could use to probe the keyspace collapses into
// the same generic unauthorized error; the real reason goes to logs and the
// event trail only.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey, clientIP string) (*Principal, error) {
	if !a.enabled {
		slog.Warn("api key presented while key auth is disabled", "ip", clientIP)
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "invalid").Inc()
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}

	if !LooksLikeAPIKey(rawKey) {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "invalid").Inc()
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}

	prefix := LookupPrefix(rawKey)
	ipKey := rate.IPKey(clientIP)
	prefixKey := rate.KeyPrefixKey(prefix)

	if !a.limiter.Allow(ipKey) {
		return nil, a.rateLimited(clientIP, prefix, "ip")
	}
	if !a.limiter.Allow(prefixKey) {
		return nil, a.rateLimited(clientIP, prefix, "key_prefix")
	}

	candidates, err := a.keys.GetAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "error").Inc()
		return nil, apperr.Internal(err)
	}

	// Uniform work: verify against a dummy digest when nothing matched the
	// prefix, and check every candidate even after a match.
	var matched *models.APIKey
	if len(candidates) == 0 {
		a.hasher.Verify(rawKey, a.hasher.DummyDigest())
	}
	for _, key := range candidates {
		if a.hasher.Verify(rawKey, key.KeyHash) && matched == nil {
			matched = key
		}
	}

	if matched == nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "invalid").Inc()
		a.events.Record(models.EventAPIKeyAuth, models.OutcomeFailure, "", clientIP, map[string]interface{}{
			"reason":     "no_match",
			"key_prefix": prefix,
		})
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}

	if matched.IsExpired(a.now()) {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "invalid").Inc()
		a.events.Record(models.EventAPIKeyAuth, models.OutcomeFailure, matched.UserID, clientIP, map[string]interface{}{
			"reason": "key_expired",
			"key_id": matched.ID,
		})
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}

	user, err := a.users.GetUserByID(ctx, matched.UserID)
	if err != nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "error").Inc()
		return nil, apperr.Internal(err)
	}
	if user == nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "not_found").Inc()
		a.events.Record(models.EventAPIKeyAuth, models.OutcomeFailure, matched.UserID, clientIP, map[string]interface{}{
			"reason": "owner_not_found",
			"key_id": matched.ID,
		})
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}
	if !user.IsActive {
		telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "suspended").Inc()
		a.events.Record(models.EventAPIKeyAuth, models.OutcomeFailure, user.ID, clientIP, map[string]interface{}{
			"reason": "owner_suspended",
			"key_id": matched.ID,
		})
		return nil, apperr.Unauthorized(apperr.CredentialMismatch)
	}

	// Success: clear the counters so earlier typos stop counting, and stamp
	// usage off the request path.
	a.limiter.Reset(ipKey)
	a.limiter.Reset(prefixKey)

	keyID := matched.ID
	safego.Go(func() {
		stampCtx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
		defer cancel()
		if err := a.keys.UpdateLastUsed(stampCtx, keyID); err != nil {
			slog.Warn("failed to stamp api key last_used", "key_id", keyID, "error", err)
		}
	})

	telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "success").Inc()

	return &Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Method:      MethodAPIKey,
		Permissions: matched.Permissions,
	}, nil
}

func (a *APIKeyAuthenticator) rateLimited(clientIP, prefix, scope string) error {
	telemetry.RateLimitDeniedTotal.WithLabelValues(scope).Inc()
	telemetry.AuthAttemptsTotal.WithLabelValues(MethodAPIKey, "rate_limited").Inc()
	a.events.Record(models.EventAPIKeyAuth, models.OutcomeRateLimited, "", clientIP, map[string]interface{}{
		"scope":      scope,
		"key_prefix": prefix,
	})
	return apperr.TooManyRequests("too many attempts, retry later")
}
