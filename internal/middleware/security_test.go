package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a GET / through SecurityHeaders and returns the
// recorder so callers can inspect headers.
func applySecurityHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeaders(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_APIProfile(t *testing.T) {
	w := applySecurityHeaders(APISecurityHeadersConfig())

	hsts := w.Header().Get("Strict-Transport-Security")
	if !strings.Contains(hsts, "max-age=31536000") || !strings.Contains(hsts, "includeSubDomains") {
		t.Errorf("Strict-Transport-Security = %q, want max-age with includeSubDomains", hsts)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q, want default-src 'none'", got)
	}
	if got := w.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Errorf("Referrer-Policy = %q, want no-referrer", got)
	}
	if got := w.Header().Get("Cross-Origin-Opener-Policy"); got != "same-origin" {
		t.Errorf("Cross-Origin-Opener-Policy = %q, want same-origin", got)
	}
	if got := w.Header().Get("Cross-Origin-Resource-Policy"); got != "same-origin" {
		t.Errorf("Cross-Origin-Resource-Policy = %q, want same-origin", got)
	}
}

func TestSecurityHeaders_DisabledKnobsOmitHeaders(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{})

	for _, header := range []string{
		"Strict-Transport-Security",
		"X-Frame-Options",
		"Content-Security-Policy",
		"Referrer-Policy",
	} {
		if got := w.Header().Get(header); got != "" {
			t.Errorf("%s = %q, want unset", header, got)
		}
	}

	// nosniff is unconditional: there is no safe reason to let a browser
	// second-guess a JSON content type.
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestSecurityHeaders_PresentOnErrorResponses(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(APISecurityHeadersConfig()))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Error("security headers missing on error response")
	}
}
