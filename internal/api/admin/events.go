// events.go implements the auth event trail listing for operators
// investigating incidents: who logged in from where, which families were
// revoked for reuse, who changed whose role.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentplane/agentplane/internal/api/respond"
	"github.com/agentplane/agentplane/internal/apperr"
	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/db/repositories"
)

// EventLog is the slice of the auth event repository the handler needs.
type EventLog interface {
	ListAuthEvents(ctx context.Context, filters repositories.AuthEventFilters, limit, offset int) ([]*models.AuthEvent, int, error)
}

// EventHandlers handles the auth event listing endpoint.
type EventHandlers struct {
	events EventLog
}

// NewEventHandlers creates an EventHandlers instance.
func NewEventHandlers(events EventLog) *EventHandlers {
	return &EventHandlers{events: events}
}

type eventPayload struct {
	ID        string                 `json:"id"`
	UserID    *string                `json:"user_id"`
	EventType string                 `json:"event_type"`
	Outcome   string                 `json:"outcome"`
	IPAddress *string                `json:"ip_address"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func newEventPayload(e *models.AuthEvent) *eventPayload {
	return &eventPayload{
		ID:        e.ID,
		UserID:    e.UserID,
		EventType: e.EventType,
		Outcome:   e.Outcome,
		IPAddress: e.IPAddress,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

// ListEventsHandler lists auth events, newest first, filterable by user,
// event type, and outcome.
// GET /v1/admin/events?user_id=&event_type=&outcome=&page=&per_page=
func (h *EventHandlers) ListEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := parsePagination(c)

		var filters repositories.AuthEventFilters
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("event_type"); v != "" {
			filters.EventType = &v
		}
		if v := c.Query("outcome"); v != "" {
			filters.Outcome = &v
		}

		events, total, err := h.events.ListAuthEvents(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			respond.Error(c, apperr.Internal(err))
			return
		}

		payload := make([]*eventPayload, 0, len(events))
		for _, e := range events {
			payload = append(payload, newEventPayload(e))
		}

		respond.Success(c, http.StatusOK, gin.H{
			"events": payload,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
