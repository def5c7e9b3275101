// apikeys.go implements self-service API key management: create (the raw key
// is returned exactly once), list own, revoke. The router gates these routes
// with keys:read / keys:write scopes so a narrowly scoped key cannot mint
// itself broader siblings.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/api/respond"
	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/auth"
	"github.com/agentplane/agentplane/internal/crypto"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/middleware"
	"github.com/agentplane/agentplane/internal/validation"
)

// KeyDirectory is the slice of the API key repository the handlers need.
type KeyDirectory interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

// APIKeyHandlers handles API key management endpoints.
type APIKeyHandlers struct {
	keys   KeyDirectory
	hasher *crypto.Hasher
	events *audit.Recorder
}

// NewAPIKeyHandlers creates an APIKeyHandlers instance.
func NewAPIKeyHandlers(keys KeyDirectory, hasher *crypto.Hasher, events *audit.Recorder) *APIKeyHandlers {
	return &APIKeyHandlers{
		keys:   keys,
		hasher: hasher,
		events: events,
	}
}

type createKeyRequest struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *string  `json:"expires_at"` // RFC3339
}

// createKeyResponse carries the raw key. This is the only response that ever
// contains it; afterwards only the prefix and digest exist server-side.
type createKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// keyPayload is the listing shape: prefix, never the key or its digest.
type keyPayload struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newKeyPayload(k *models.APIKey) *keyPayload {
	return &keyPayload{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Permissions,
		ExpiresAt:  k.ExpiresAt,
		RevokedAt:  k.RevokedAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// CreateAPIKeyHandler mints a new key for the authenticated user.
// POST /v1/keys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		var req createKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.BadRequest("invalid request body"))
			return
		}

		if err := validation.ValidateDisplayName(req.Name); err != nil {
			respond.Error(c, apperr.Validation(err.Error()))
			return
		}

		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = auth.GetDefaultScopes()
		} else if err := auth.ValidateScopes(scopes); err != nil {
			respond.Error(c, apperr.Validation(err.Error()))
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				respond.Error(c, apperr.Validation("expires_at must be RFC3339"))
				return
			}
			if !parsed.After(time.Now()) {
				respond.Error(c, apperr.Validation("expires_at must be in the future"))
				return
			}
			expiresAt = &parsed
		}

		rawKey, digest, lookupPrefix, err := auth.GenerateAPIKey(h.hasher)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		apiKey := &models.APIKey{
			UserID:      principal.UserID,
			Name:        req.Name,
			KeyPrefix:   lookupPrefix,
			KeyHash:     digest,
			Permissions: scopes,
			ExpiresAt:   expiresAt,
		}
		if err := h.keys.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.events.Record(models.EventKeyCreate, models.OutcomeSuccess, principal.UserID, c.ClientIP(),
			map[string]interface{}{"key_id": apiKey.ID, "key_prefix": lookupPrefix})

		respond.Success(c, http.StatusCreated, createKeyResponse{
			ID:        apiKey.ID,
			Name:      apiKey.Name,
			Key:       rawKey, // only returned here, never again
			KeyPrefix: lookupPrefix,
			Scopes:    scopes,
			ExpiresAt: expiresAt,
			CreatedAt: apiKey.CreatedAt,
		})
	}
}

// ListAPIKeysHandler lists the authenticated user's keys, revoked ones
// included so the history stays visible.
// GET /v1/keys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		keys, err := h.keys.ListAPIKeysByUser(c.Request.Context(), principal.UserID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		payload := make([]*keyPayload, 0, len(keys))
		for _, k := range keys {
			payload = append(payload, newKeyPayload(k))
		}

		respond.Success(c, http.StatusOK, gin.H{"keys": payload})
	}
}

// RevokeAPIKeyHandler revokes a key. Owners can revoke their own keys; admins
// can revoke anyone's. Revocation takes effect on the key's next use — there
// is no cached key state to invalidate.
// DELETE /v1/keys/:id
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		keyID := c.Param("id")

		apiKey, err := h.keys.GetAPIKeyByID(c.Request.Context(), keyID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if apiKey == nil {
			respond.Error(c, apperr.NotFound("api key not found"))
			return
		}

		if apiKey.UserID != principal.UserID && !principal.IsAdmin() {
			respond.Error(c, apperr.Forbidden("access denied"))
			return
		}

		if err := h.keys.RevokeAPIKey(c.Request.Context(), keyID); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.events.Record(models.EventKeyRevoke, models.OutcomeSuccess, principal.UserID, c.ClientIP(),
			map[string]interface{}{"key_id": keyID, "key_owner": apiKey.UserID})

		respond.Success(c, http.StatusOK, gin.H{"message": "api key revoked"})
	}
}
