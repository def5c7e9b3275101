package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/db/repositories"
)

type fakeEventLog struct {
	mu         sync.Mutex
	events     []*models.AuthEvent
	total      int
	err        error
	gotFilters repositories.AuthEventFilters
	gotLimit   int
	gotOffset  int
}

func (l *fakeEventLog) ListAuthEvents(ctx context.Context, filters repositories.AuthEventFilters, limit, offset int) ([]*models.AuthEvent, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gotFilters = filters
	l.gotLimit = limit
	l.gotOffset = offset
	if l.err != nil {
		return nil, 0, l.err
	}
	return l.events, l.total, nil
}

func newEventsRouter(log *fakeEventLog) *gin.Engine {
	h := NewEventHandlers(log)
	r := gin.New()
	r.GET("/v1/admin/events", h.ListEventsHandler())
	return r
}

func getEvents(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, adminResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp adminResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response %q is not valid JSON: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestListEvents(t *testing.T) {
	userID := "user-1"
	ip := "203.0.113.9"
	log := &fakeEventLog{
		events: []*models.AuthEvent{
			{
				ID:        "evt-1",
				UserID:    &userID,
				EventType: models.EventLogin,
				Outcome:   models.OutcomeFailure,
				IPAddress: &ip,
				Metadata:  map[string]interface{}{"reason": "wrong password"},
				CreatedAt: time.Now().UTC(),
			},
		},
		total: 41,
	}
	r := newEventsRouter(log)

	w, resp := getEvents(t, r, "/v1/admin/events?page=2&per_page=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var data struct {
		Events []struct {
			ID        string                 `json:"id"`
			EventType string                 `json:"event_type"`
			Outcome   string                 `json:"outcome"`
			Metadata  map[string]interface{} `json:"metadata"`
		} `json:"events"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}

	if len(data.Events) != 1 || data.Events[0].EventType != models.EventLogin {
		t.Errorf("events = %+v, want the seeded login failure", data.Events)
	}
	if data.Events[0].Metadata["reason"] != "wrong password" {
		t.Errorf("metadata = %v, want the recorded reason", data.Events[0].Metadata)
	}
	if data.Pagination.Total != 41 {
		t.Errorf("total = %d, want 41", data.Pagination.Total)
	}

	// page=2 per_page=10 translates to limit 10 offset 10.
	if log.gotLimit != 10 || log.gotOffset != 10 {
		t.Errorf("store called with limit=%d offset=%d, want 10/10", log.gotLimit, log.gotOffset)
	}
}

func TestListEvents_Filters(t *testing.T) {
	log := &fakeEventLog{}
	r := newEventsRouter(log)

	getEvents(t, r, "/v1/admin/events?user_id=user-7&event_type=auth.login&outcome=failure")

	if log.gotFilters.UserID == nil || *log.gotFilters.UserID != "user-7" {
		t.Errorf("UserID filter = %v, want user-7", log.gotFilters.UserID)
	}
	if log.gotFilters.EventType == nil || *log.gotFilters.EventType != models.EventLogin {
		t.Errorf("EventType filter = %v, want %s", log.gotFilters.EventType, models.EventLogin)
	}
	if log.gotFilters.Outcome == nil || *log.gotFilters.Outcome != models.OutcomeFailure {
		t.Errorf("Outcome filter = %v, want %s", log.gotFilters.Outcome, models.OutcomeFailure)
	}
}

func TestListEvents_NoFiltersMeansNilPointers(t *testing.T) {
	log := &fakeEventLog{}
	r := newEventsRouter(log)

	getEvents(t, r, "/v1/admin/events")

	if log.gotFilters.UserID != nil || log.gotFilters.EventType != nil || log.gotFilters.Outcome != nil {
		t.Errorf("filters = %+v, want all nil when no query params given", log.gotFilters)
	}
}

func TestListEvents_EmptyPageIsEmptyArray(t *testing.T) {
	log := &fakeEventLog{}
	r := newEventsRouter(log)

	w, _ := getEvents(t, r, "/v1/admin/events")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// Clients iterate the list; an empty page must be [], not null.
	if !json.Valid(w.Body.Bytes()) {
		t.Fatalf("invalid JSON: %s", w.Body.String())
	}
	var raw struct {
		Data struct {
			Events json.RawMessage `json:"events"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw.Data.Events) == "null" {
		t.Error("events serialized as null, want []")
	}
}
