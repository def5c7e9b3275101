// Package jobs holds the background loops that run beside the HTTP server.
//
// expiring_keys.go implements the periodic scan for API keys approaching
// their expiry date. The scan publishes the count as a gauge and logs each
// key so operators can warn the owners; delivering the warning (email, chat)
// is deliberately left to whatever watches the logs and metrics.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// ExpiringKeyStore is the slice of the API key repository the scanner needs.
type ExpiringKeyStore interface {
	FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error)
}

// ExpiringKeyScanner periodically counts live API keys that will expire
// within the warning window.
type ExpiringKeyScanner struct {
	keys        ExpiringKeyStore
	warningDays int
	interval    time.Duration
	stopCh      chan struct{}
}

// NewExpiringKeyScanner creates a scanner. warningDays defaults to 7 and
// intervalHours to 24 when not positive.
func NewExpiringKeyScanner(keys ExpiringKeyStore, warningDays, intervalHours int) *ExpiringKeyScanner {
	if warningDays <= 0 {
		warningDays = 7
	}
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &ExpiringKeyScanner{
		keys:        keys,
		warningDays: warningDays,
		interval:    time.Duration(intervalHours) * time.Hour,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the scan loop: once immediately, then on the configured
// interval. It blocks until ctx is cancelled or Stop is called, so callers
// launch it on its own goroutine.
func (s *ExpiringKeyScanner) Start(ctx context.Context) {
	slog.Info("expiring key scanner started",
		"interval", s.interval,
		"warning_days", s.warningDays,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runScan(ctx)

	for {
		select {
		case <-ticker.C:
			s.runScan(ctx)
		case <-s.stopCh:
			slog.Info("expiring key scanner stopped")
			return
		case <-ctx.Done():
			slog.Info("expiring key scanner context cancelled")
			return
		}
	}
}

// Stop signals the scan loop to exit.
func (s *ExpiringKeyScanner) Stop() {
	close(s.stopCh)
}

func (s *ExpiringKeyScanner) runScan(ctx context.Context) {
	keys, err := s.keys.FindExpiringKeys(ctx, s.warningDays)
	if err != nil {
		slog.Error("expiring key scan failed", "error", err)
		return
	}

	telemetry.APIKeysExpiringSoon.Set(float64(len(keys)))

	for _, key := range keys {
		slog.Warn("api key expiring soon",
			"key_id", key.ID,
			"key_prefix", key.KeyPrefix,
			"name", key.Name,
			"user_id", key.UserID,
			"expires_at", key.ExpiresAt,
		)
	}
}
