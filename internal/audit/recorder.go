// Package audit records security-relevant authentication events: logins,
// registrations, refresh rotations and reuse detections, API key usage and
// management, and admin actions against accounts. The trail is kept separate
// from application logs because it has different consumers and retention —
// application logs are ephemeral debug output for on-call engineers, while
// auth events are queryable records reviewed after an incident and may be
// subject to compliance retention. Writes happen off the request path: a
// slow or failing event insert must never decide an authentication outcome.
// Events can additionally be exported to external collectors (webhook, file)
// for SIEM ingestion; the database remains the authoritative trail.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/safego"
)

// writeTimeout bounds the background insert so a wedged database cannot pile
// up recorder goroutines indefinitely.
const writeTimeout = 5 * time.Second

// EventStore is the slice of the event repository the recorder writes to.
type EventStore interface {
	CreateAuthEvent(ctx context.Context, event *models.AuthEvent) error
}

// Recorder persists auth events asynchronously and optionally ships a copy
// to configured export destinations. Failures on either path are logged and
// dropped; callers never observe them.
type Recorder struct {
	store     EventStore
	exporters []Exporter
}

// NewRecorder creates a recorder over the given store. Nil exporters are
// skipped so callers can pass the result of NewExporters unconditionally.
func NewRecorder(store EventStore, exporters ...Exporter) *Recorder {
	r := &Recorder{store: store}
	for _, exp := range exporters {
		if exp != nil {
			r.exporters = append(r.exporters, exp)
		}
	}
	return r
}

// Record writes one event row in the background and returns immediately.
// Empty userID or clientIP are stored as NULL — failed logins often cannot
// be attributed to an account. metadata may be nil. Export destinations
// receive the same event after the database write, whether or not that
// write succeeded.
func (r *Recorder) Record(eventType, outcome, userID, clientIP string, metadata map[string]interface{}) {
	event := &models.AuthEvent{
		EventType: eventType,
		Outcome:   outcome,
		Metadata:  metadata,
	}
	if userID != "" {
		event.UserID = &userID
	}
	if clientIP != "" {
		event.IPAddress = &clientIP
	}

	entry := &Entry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Outcome:   outcome,
		UserID:    userID,
		IPAddress: clientIP,
		Metadata:  metadata,
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.store.CreateAuthEvent(ctx, event); err != nil {
			slog.Error("failed to record auth event",
				"event_type", eventType,
				"outcome", outcome,
				"error", err,
			)
		}

		for _, exp := range r.exporters {
			if err := exp.Export(ctx, entry); err != nil {
				slog.Error("failed to export auth event",
					"event_type", eventType,
					"outcome", outcome,
					"error", err,
				)
			}
		}
	})
}
