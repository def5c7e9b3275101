package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/apperr"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// perform runs a single handler and returns the recorded response.
func perform(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/test", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess_WrapsDataInEnvelope(t *testing.T) {
	w := perform(t, func(c *gin.Context) {
		Success(c, http.StatusCreated, gin.H{"id": "user-1"})
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	var data map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "user-1", data["id"])
}

func TestError_TaxonomyErrorPassesThrough(t *testing.T) {
	w := perform(t, func(c *gin.Context) {
		Error(c, apperr.Forbidden("admin access required"))
	})

	assert.Equal(t, http.StatusForbidden, w.Code)

	resp := decode(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeForbidden, resp.Error.Code)
	assert.Equal(t, "admin access required", resp.Error.Message)
}

func TestError_StatusAndCodePerConstructor(t *testing.T) {
	tests := []struct {
		name       string
		err        *apperr.Error
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", apperr.Unauthorized(apperr.CredentialMismatch), http.StatusUnauthorized, apperr.CodeUnauthorized},
		{"forbidden", apperr.Forbidden("account suspended"), http.StatusForbidden, apperr.CodeForbidden},
		{"too many requests", apperr.TooManyRequests("too many attempts"), http.StatusTooManyRequests, apperr.CodeTooManyRequests},
		{"not found", apperr.NotFound("user not found"), http.StatusNotFound, apperr.CodeNotFound},
		{"bad request", apperr.BadRequest("invalid request body"), http.StatusBadRequest, apperr.CodeBadRequest},
		{"validation", apperr.Validation("password too short"), http.StatusBadRequest, apperr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(t, func(c *gin.Context) {
				Error(c, tt.err)
			})

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestError_UnclassifiedBecomesInternal(t *testing.T) {
	w := perform(t, func(c *gin.Context) {
		Error(c, errors.New("pq: connection refused"))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.CodeInternal, resp.Error.Code)
	assert.Equal(t, "internal server error", resp.Error.Message)
	// The cause is for logs only.
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestError_WrappedCauseNeverSerializes(t *testing.T) {
	w := perform(t, func(c *gin.Context) {
		Error(c, apperr.NotFound("user not found").WithCause(errors.New("sql: no rows in result set")))
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "user not found")
	assert.NotContains(t, w.Body.String(), "no rows")
}
