// Package admin implements the management HTTP handlers: user accounts, API
// keys, and the auth event trail. Key management is self-service (scope-gated
// per key), everything else requires the admin role — see
// internal/middleware/rbac.go for the gates the router applies.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/api/respond"
	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/middleware"
)

// UserDirectory is the slice of the user repository the admin handlers need.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UpdateRole(ctx context.Context, userID, role string) error
	SetActive(ctx context.Context, userID string, active bool) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
}

// SessionRevoker kills every refresh family a user holds. Suspension calls it
// so a suspended account cannot mint new access tokens.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

// StatusInvalidator drops a user's cached status so role changes and
// suspensions reach the auth middleware immediately instead of after the TTL.
type StatusInvalidator interface {
	Invalidate(userID string)
}

// UserHandlers handles the admin user management endpoints.
type UserHandlers struct {
	users    UserDirectory
	sessions SessionRevoker
	statuses StatusInvalidator
	events   *audit.Recorder
}

// NewUserHandlers creates a UserHandlers instance.
func NewUserHandlers(users UserDirectory, sessions SessionRevoker, statuses StatusInvalidator, events *audit.Recorder) *UserHandlers {
	return &UserHandlers{
		users:    users,
		sessions: sessions,
		statuses: statuses,
		events:   events,
	}
}

// userPayload is the client-facing shape of a user record; the model's
// password digest never marshals.
type userPayload struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserPayload(u *models.User) *userPayload {
	return &userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// parsePagination reads page/per_page query parameters with the usual
// clamping: page >= 1, 1 <= per_page <= 100, default 20.
func parsePagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return page, perPage, (page - 1) * perPage
}

// ListUsersHandler lists all users with pagination.
// GET /v1/admin/users?page=1&per_page=20
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := parsePagination(c)

		users, total, err := h.users.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		payload := make([]*userPayload, 0, len(users))
		for _, u := range users {
			payload = append(payload, newUserPayload(u))
		}

		respond.Success(c, http.StatusOK, gin.H{
			"users": payload,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// ChangeRoleHandler sets a user's role and invalidates their cached status so
// the change takes effect on their next request.
// PUT /v1/admin/users/:id/role
func (h *UserHandlers) ChangeRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		var req changeRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.BadRequest("invalid request body"))
			return
		}

		if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
			respond.Error(c, apperr.Validation("role must be 'user' or 'admin'"))
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if user == nil {
			respond.Error(c, apperr.NotFound("user not found"))
			return
		}

		if err := h.users.UpdateRole(c.Request.Context(), userID, req.Role); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.statuses.Invalidate(userID)
		h.events.Record(models.EventRoleChange, models.OutcomeSuccess, actorID(c), c.ClientIP(),
			map[string]interface{}{"target_user": userID, "role": req.Role})

		user.Role = req.Role
		respond.Success(c, http.StatusOK, newUserPayload(user))
	}
}

// SuspendUserHandler deactivates an account: future logins fail, existing
// access tokens die at the status cache, and every refresh family is revoked
// so nothing new can be minted.
// POST /v1/admin/users/:id/suspend
func (h *UserHandlers) SuspendUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		if userID == actorID(c) {
			respond.Error(c, apperr.Validation("cannot suspend your own account"))
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if user == nil {
			respond.Error(c, apperr.NotFound("user not found"))
			return
		}

		if err := h.users.SetActive(c.Request.Context(), userID, false); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		if err := h.sessions.RevokeAllForUser(c.Request.Context(), userID); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.statuses.Invalidate(userID)
		h.events.Record(models.EventSuspend, models.OutcomeSuccess, actorID(c), c.ClientIP(),
			map[string]interface{}{"target_user": userID})

		user.IsActive = false
		respond.Success(c, http.StatusOK, newUserPayload(user))
	}
}

// ReactivateUserHandler re-enables a suspended account. Sessions are not
// restored; the user logs in again.
// POST /v1/admin/users/:id/reactivate
func (h *UserHandlers) ReactivateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		user, err := h.users.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if user == nil {
			respond.Error(c, apperr.NotFound("user not found"))
			return
		}

		if err := h.users.SetActive(c.Request.Context(), userID, true); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.statuses.Invalidate(userID)
		h.events.Record(models.EventReactivate, models.OutcomeSuccess, actorID(c), c.ClientIP(),
			map[string]interface{}{"target_user": userID})

		user.IsActive = true
		respond.Success(c, http.StatusOK, newUserPayload(user))
	}
}

// actorID returns the authenticated principal's user ID for event attribution.
func actorID(c *gin.Context) string {
	if principal, ok := middleware.CurrentPrincipal(c); ok {
		return principal.UserID
	}
	return ""
}
