// auth_handlers.go implements the public authentication endpoints: register,
// login, refresh, logout, and the authenticated /v1/me. Every credential
// rejection surfaces as the same generic 401; the specific reason goes to the
// auth event trail and logs only.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/api/respond"
	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/auth"
	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/crypto"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/middleware"
	"github.com/agentplane/agentplane/internal/rate"
	"github.com/agentplane/agentplane/internal/telemetry"
	"github.com/agentplane/agentplane/internal/validation"
)

// RefreshCookieName is the HttpOnly cookie carrying the refresh token for
// browser clients. Scoped to the auth endpoints so it never rides along on
// ordinary API calls.
const (
	RefreshCookieName = "agentplane_refresh"
	refreshCookiePath = "/v1/auth"
)

// UserAccounts is the slice of the user repository the auth handlers need.
type UserAccounts interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// SessionIssuer is the rotation engine surface the handlers call: start a
// family at login/register, rotate it at refresh, kill it at logout.
type SessionIssuer interface {
	IssuePair(ctx context.Context, user *models.User) (*auth.TokenPair, error)
	Rotate(ctx context.Context, rawToken, clientIP string) (*auth.TokenPair, error)
	Logout(ctx context.Context, rawToken, clientIP string)
}

// AuthHandlers handles the password and refresh-token endpoints.
type AuthHandlers struct {
	cfg      *config.Config
	users    UserAccounts
	sessions SessionIssuer
	hasher   *crypto.Hasher
	limiter  rate.Limiter
	events   *audit.Recorder
}

// NewAuthHandlers creates an AuthHandlers instance.
func NewAuthHandlers(cfg *config.Config, users UserAccounts, sessions SessionIssuer, hasher *crypto.Hasher, limiter rate.Limiter, events *audit.Recorder) *AuthHandlers {
	return &AuthHandlers{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		limiter:  limiter,
		events:   events,
	}
}

// userPayload is the client-facing shape of a user record. The model itself
// carries the password digest, so it never marshals directly.
type userPayload struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserPayload(u *models.User) *userPayload {
	return &userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// sessionPayload carries a freshly issued token pair. The refresh token is
// duplicated in the body for non-browser clients; browsers use the cookie.
type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	User         *userPayload `json:"user,omitempty"`
}

func (h *AuthHandlers) newSessionPayload(pair *auth.TokenPair, user *models.User) *sessionPayload {
	p := &sessionPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.cfg.Auth.AccessTokenTTL.Seconds()),
	}
	if user != nil {
		p.User = newUserPayload(user)
	}
	return p
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RegisterHandler creates an account and starts its first session.
// POST /v1/auth/register
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.BadRequest("invalid request body"))
			return
		}

		if err := validation.ValidateEmail(req.Email); err != nil {
			respond.Error(c, apperr.Validation(err.Error()))
			return
		}
		if err := validation.ValidatePassword(req.Password); err != nil {
			respond.Error(c, apperr.Validation(err.Error()))
			return
		}
		if err := validation.ValidateDisplayName(req.Name); err != nil {
			respond.Error(c, apperr.Validation(err.Error()))
			return
		}

		email := validation.NormalizeEmail(req.Email)

		existing, err := h.users.GetUserByEmail(c.Request.Context(), email)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if existing != nil {
			respond.Error(c, apperr.Validation("email already registered"))
			return
		}

		hash, err := h.hasher.Hash(req.Password)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		user := &models.User{
			Email:        email,
			Name:         req.Name,
			PasswordHash: hash,
			Role:         models.RoleUser,
			IsActive:     true,
		}
		if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		pair, err := h.sessions.IssuePair(c.Request.Context(), user)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.events.Record(models.EventRegister, models.OutcomeSuccess, user.ID, c.ClientIP(), nil)

		h.setRefreshCookie(c, pair.RefreshToken)
		respond.Success(c, http.StatusCreated, h.newSessionPayload(pair, user))
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler verifies a password and starts a new token family. The route
// sits behind the login rate limiter; success resets the caller's counter.
// POST /v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.BadRequest("invalid request body"))
			return
		}

		clientIP := c.ClientIP()
		email := validation.NormalizeEmail(req.Email)

		user, err := h.users.GetUserByEmail(c.Request.Context(), email)
		if err != nil {
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "error").Inc()
			respond.Error(c, apperr.Internal(err))
			return
		}

		if user == nil {
			// Burn the same hashing work as a real verification so response
			// timing does not reveal whether the email exists.
			h.hasher.Verify(req.Password, h.hasher.DummyDigest())
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "not_found").Inc()
			h.events.Record(models.EventLogin, models.OutcomeFailure, "", clientIP,
				map[string]interface{}{"reason": "unknown email", "email": email})
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		if !h.hasher.Verify(req.Password, user.PasswordHash) {
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "invalid").Inc()
			h.events.Record(models.EventLogin, models.OutcomeFailure, user.ID, clientIP,
				map[string]interface{}{"reason": "wrong password"})
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		if !user.IsActive {
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "suspended").Inc()
			h.events.Record(models.EventLogin, models.OutcomeFailure, user.ID, clientIP,
				map[string]interface{}{"reason": "account suspended"})
			respond.Error(c, apperr.Forbidden("account suspended"))
			return
		}

		pair, err := h.sessions.IssuePair(c.Request.Context(), user)
		if err != nil {
			telemetry.AuthAttemptsTotal.WithLabelValues("password", "error").Inc()
			respond.Error(c, apperr.Internal(err))
			return
		}

		// The password was right: clear this IP's failed-attempt counter so a
		// user who finally remembered it is not locked out by their history.
		h.limiter.Reset(rate.LoginKey(clientIP))

		telemetry.AuthAttemptsTotal.WithLabelValues("password", "success").Inc()
		h.events.Record(models.EventLogin, models.OutcomeSuccess, user.ID, clientIP, nil)

		h.setRefreshCookie(c, pair.RefreshToken)
		respond.Success(c, http.StatusOK, h.newSessionPayload(pair, user))
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler exchanges a refresh token for a new pair. The token comes
// from the cookie when present, the body otherwise. Every rejection is the
// same generic 401; the rotation engine has already recorded the real reason.
// POST /v1/auth/refresh
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := h.refreshTokenFrom(c)
		if rawToken == "" {
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		pair, err := h.sessions.Rotate(c.Request.Context(), rawToken, c.ClientIP())
		if err != nil {
			if errors.Is(err, auth.ErrInvalidRefreshToken) ||
				errors.Is(err, auth.ErrRefreshReused) ||
				errors.Is(err, auth.ErrUserNotFound) {
				respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
				return
			}
			respond.Error(c, apperr.Internal(err))
			return
		}

		h.setRefreshCookie(c, pair.RefreshToken)
		respond.Success(c, http.StatusOK, h.newSessionPayload(pair, nil))
	}
}

// LogoutHandler revokes the presented token's family. Best effort: an absent,
// invalid, or already-dead token still yields 200 and a cleared cookie —
// logout never fails.
// POST /v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rawToken := h.refreshTokenFrom(c); rawToken != "" {
			h.sessions.Logout(c.Request.Context(), rawToken, c.ClientIP())
		}

		h.clearRefreshCookie(c)
		respond.Success(c, http.StatusOK, gin.H{"message": "logged out"})
	}
}

// MeHandler returns the authenticated principal's current user record.
// GET /v1/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			respond.Error(c, apperr.Unauthorized(apperr.CredentialMismatch))
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), principal.UserID)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}
		if user == nil {
			respond.Error(c, apperr.NotFound("user not found"))
			return
		}

		respond.Success(c, http.StatusOK, newUserPayload(user))
	}
}

// refreshTokenFrom pulls the refresh token from the cookie, falling back to
// the JSON body for clients that do not hold cookies.
func (h *AuthHandlers) refreshTokenFrom(c *gin.Context) string {
	if cookie, err := c.Cookie(RefreshCookieName); err == nil && cookie != "" {
		return cookie
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func (h *AuthHandlers) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, token,
		int(h.cfg.Auth.RefreshTokenTTL.Seconds()),
		refreshCookiePath, "", h.cfg.IsProduction(), true)
}

func (h *AuthHandlers) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1,
		refreshCookiePath, "", h.cfg.IsProduction(), true)
}
