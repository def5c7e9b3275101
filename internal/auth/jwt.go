// jwt.go issues and verifies the two signed token classes. Access and refresh
// tokens are signed with independent HMAC secrets, so a token of one class
// can never verify as the other — a stolen refresh token is useless against
// endpoints that check access tokens, and vice versa. Every verification
// failure collapses into ErrInvalidToken: expired, tampered, wrong class,
// wrong issuer, and malformed tokens are indistinguishable to callers and
// therefore to clients.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/db/models"
)

// Issuer is the iss claim stamped on every token and required at
// verification.
const Issuer = "agentplane"

// ErrInvalidToken is the single verification error. Callers translate it into
// the generic credential-mismatch response.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are the claims carried by short-lived access tokens. Role is a
// snapshot from issuance time; the middleware re-checks the live account
// status against storage on each request.
type AccessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by refresh tokens. Family ties the
// token to its rotation chain; the jti makes every issued token unique so
// digests of two tokens from the same family never collide.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	Family string `json:"family"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies both token classes.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService builds a service from validated auth configuration.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueAccess creates a signed access token for the user.
func (s *TokenService) IssueAccess(user *models.User) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   user.ID,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

// IssueRefresh creates a signed refresh token bound to a rotation family.
func (s *TokenService) IssueRefresh(userID, family string) (string, error) {
	now := time.Now()
	claims := &RefreshClaims{
		UserID: userID,
		Family: family,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   userID,
			ID:        uuid.New().String(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
}

// VerifyAccess parses and verifies an access token.
func (s *TokenService) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.verify(tokenString, claims, s.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and verifies a refresh token.
func (s *TokenService) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.verify(tokenString, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *TokenService) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// Pinning the method family blocks alg-substitution tokens ("none",
		// RS256 with the secret as a public key).
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
