package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/agentplane/agentplane/internal/config"
)

// routerConfig builds a config that exercises the in-process wiring: no redis
// address, memory limiter, a slow scanner interval so background scans do not
// race the assertions.
func routerConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Auth: config.AuthConfig{
			AccessTokenSecret:  "router-test-access-secret-0123456",
			RefreshTokenSecret: "router-test-refresh-secret-012345",
			AccessTokenTTL:     15 * time.Minute,
			RefreshTokenTTL:    168 * time.Hour,
			APIKeys: config.APIKeyConfig{
				Enabled: true,
			},
		},
		RateLimit: config.RateLimitConfig{
			Window:        time.Minute,
			MaxAttempts:   10,
			BlockDuration: 15 * time.Minute,
			SweepInterval: time.Hour,
		},
		Cache: config.CacheConfig{UserStatusTTL: 30 * time.Second},
		Security: config.SecurityConfig{
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"https://dashboard.example.com"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
		Jobs: config.JobsConfig{
			KeyExpiryWarningDays:        7,
			KeyExpiryCheckIntervalHours: 24,
		},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	// The startup scan and the request under test hit the mock from different
	// goroutines; unordered matching keeps them from consuming each other's
	// expectations.
	mock.MatchExpectationsInOrder(false)

	router, bg := NewRouter(routerConfig(), sqlx.NewDb(db, "postgres"))
	t.Cleanup(bg.Shutdown)
	return router, mock
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := map[string]interface{}{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("response %q is not valid JSON: %v", w.Body.String(), err)
		}
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := get(t, router, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestReadyz(t *testing.T) {
	t.Run("database up", func(t *testing.T) {
		router, mock := newTestRouter(t)
		mock.ExpectPing()

		w, body := get(t, router, "/readyz")
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
		}
		if body["ready"] != true {
			t.Errorf("ready = %v, want true", body["ready"])
		}
	})

	t.Run("database down", func(t *testing.T) {
		router, mock := newTestRouter(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		w, body := get(t, router, "/readyz")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
		if body["ready"] != false {
			t.Errorf("ready = %v, want false", body["ready"])
		}
	})
}

func TestVersion(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := get(t, router, "/version")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/v1/me", "/v1/keys", "/v1/admin/users", "/v1/admin/events"} {
		w, body := get(t, router, path)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: status = %d, want 401", path, w.Code)
		}
		if body["success"] != false {
			t.Errorf("GET %s: success = %v, want false", path, body["success"])
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("Allow-Origin = %q, want the allow-listed origin", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset for an unknown origin", got)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	router, _ := newTestRouter(t)

	w, _ := get(t, router, "/healthz")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Error("X-Request-ID missing; request id middleware not wired")
	}
}
