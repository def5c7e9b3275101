package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type stubKeyStore struct {
	mu      sync.Mutex
	keys    []*models.APIKey
	err     error
	gotDays int
	scans   int
	scanned chan struct{}
}

func (s *stubKeyStore) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotDays = warningDays
	s.scans++
	if s.scanned != nil {
		select {
		case s.scanned <- struct{}{}:
		default:
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.keys, nil
}

func (s *stubKeyStore) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func expiringKey(id string, daysLeft int) *models.APIKey {
	expiresAt := time.Now().Add(time.Duration(daysLeft) * 24 * time.Hour)
	return &models.APIKey{
		ID:        id,
		UserID:    "user-1",
		Name:      "ci key",
		KeyPrefix: "sk_live_abcd",
		ExpiresAt: &expiresAt,
	}
}

func expiringGaugeValue(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := telemetry.APIKeysExpiringSoon.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

// ---------------------------------------------------------------------------
// Construction and defaulting
// ---------------------------------------------------------------------------

func TestNewExpiringKeyScanner_Defaults(t *testing.T) {
	s := NewExpiringKeyScanner(&stubKeyStore{}, 0, 0)
	if s.warningDays != 7 {
		t.Errorf("warningDays = %d, want 7", s.warningDays)
	}
	if s.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", s.interval)
	}
	if s.stopCh == nil {
		t.Error("stopCh should not be nil after construction")
	}
}

func TestNewExpiringKeyScanner_NegativeValues_Default(t *testing.T) {
	s := NewExpiringKeyScanner(&stubKeyStore{}, -3, -12)
	if s.warningDays != 7 {
		t.Errorf("warningDays = %d, want 7", s.warningDays)
	}
	if s.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", s.interval)
	}
}

func TestNewExpiringKeyScanner_CustomWindow(t *testing.T) {
	s := NewExpiringKeyScanner(&stubKeyStore{}, 14, 48)
	if s.warningDays != 14 {
		t.Errorf("warningDays = %d, want 14", s.warningDays)
	}
	if s.interval != 48*time.Hour {
		t.Errorf("interval = %v, want 48h", s.interval)
	}
}

// ---------------------------------------------------------------------------
// runScan — gauge and store interaction
// ---------------------------------------------------------------------------

func TestExpiringKeyScanner_RunScan_SetsGaugeToCount(t *testing.T) {
	store := &stubKeyStore{keys: []*models.APIKey{
		expiringKey("key-1", 2),
		expiringKey("key-2", 5),
		expiringKey("key-3", 6),
	}}
	s := NewExpiringKeyScanner(store, 7, 24)

	s.runScan(context.Background())

	if got := expiringGaugeValue(t); got != 3 {
		t.Errorf("gauge = %v, want 3", got)
	}
	if store.gotDays != 7 {
		t.Errorf("store saw warningDays = %d, want 7", store.gotDays)
	}
}

func TestExpiringKeyScanner_RunScan_ClearsGaugeWhenNothingExpires(t *testing.T) {
	store := &stubKeyStore{keys: []*models.APIKey{expiringKey("key-1", 1)}}
	s := NewExpiringKeyScanner(store, 7, 24)

	s.runScan(context.Background())
	if got := expiringGaugeValue(t); got != 1 {
		t.Fatalf("gauge after first scan = %v, want 1", got)
	}

	// The key was rotated away; the next scan must drop the gauge back to zero
	// rather than leaving the stale count up.
	store.mu.Lock()
	store.keys = nil
	store.mu.Unlock()

	s.runScan(context.Background())
	if got := expiringGaugeValue(t); got != 0 {
		t.Errorf("gauge after empty scan = %v, want 0", got)
	}
}

func TestExpiringKeyScanner_RunScan_StoreErrorKeepsLastValue(t *testing.T) {
	store := &stubKeyStore{keys: []*models.APIKey{expiringKey("key-1", 3)}}
	s := NewExpiringKeyScanner(store, 7, 24)

	s.runScan(context.Background())
	if got := expiringGaugeValue(t); got != 1 {
		t.Fatalf("gauge after first scan = %v, want 1", got)
	}

	store.mu.Lock()
	store.err = errors.New("db connection lost")
	store.mu.Unlock()

	// A failed scan logs and returns; the gauge keeps the last known count.
	s.runScan(context.Background())
	if got := expiringGaugeValue(t); got != 1 {
		t.Errorf("gauge after failed scan = %v, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Start / Stop lifecycle
// ---------------------------------------------------------------------------

func TestExpiringKeyScanner_StartScansImmediately(t *testing.T) {
	store := &stubKeyStore{scanned: make(chan struct{}, 1)}
	s := NewExpiringKeyScanner(store, 7, 24)

	go s.Start(context.Background())
	defer s.Stop()

	select {
	case <-store.scanned:
		// first scan ran without waiting for the ticker
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not run an immediate scan")
	}
}

func TestExpiringKeyScanner_StopUnblocksStart(t *testing.T) {
	store := &stubKeyStore{scanned: make(chan struct{}, 1)}
	s := NewExpiringKeyScanner(store, 7, 24)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	<-store.scanned
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after Stop")
	}
}

func TestExpiringKeyScanner_ContextCancelUnblocksStart(t *testing.T) {
	store := &stubKeyStore{scanned: make(chan struct{}, 1)}
	s := NewExpiringKeyScanner(store, 7, 24)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	<-store.scanned
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after context cancellation")
	}
}

func TestExpiringKeyScanner_TickerTriggersRepeatScans(t *testing.T) {
	store := &stubKeyStore{scanned: make(chan struct{}, 4)}
	s := &ExpiringKeyScanner{
		keys:        store,
		warningDays: 7,
		interval:    10 * time.Millisecond,
		stopCh:      make(chan struct{}),
	}

	go s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-store.scanned:
		case <-deadline:
			t.Fatalf("saw %d scans before deadline, want at least 3", i)
		}
	}

	if store.scanCount() < 3 {
		t.Errorf("scan count = %d, want >= 3", store.scanCount())
	}
}
