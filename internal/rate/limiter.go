// Package rate implements the fixed-window attempt limiter that slows
// credential stuffing against the login and API-key verification paths. A key
// gets at most MaxAttempts calls per window; the call that exceeds the limit
// starts a block period during which every call is denied. Successful
// authentication resets the key so legitimate users who eventually type the
// right password are not locked out behind a stale counter.
package rate

import (
	"sync"
	"time"
)

// Limiter is the contract shared by the in-memory and Redis-backed
// implementations. Allow reports whether the caller may proceed and counts
// the attempt; Reset forgets everything recorded for the key.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
	Stop()
}

// Config holds the limiter knobs. The same config drives both
// implementations.
type Config struct {
	// Window is the span over which attempts are counted.
	Window time.Duration
	// MaxAttempts is the number of calls allowed per window. The call that
	// would exceed it is denied and starts the block.
	MaxAttempts int
	// BlockDuration is how long a key stays denied after exceeding the limit.
	BlockDuration time.Duration
	// SweepInterval is how often the in-memory limiter evicts dead entries.
	SweepInterval time.Duration
}

// DefaultConfig returns the limits applied to authentication endpoints.
func DefaultConfig() Config {
	return Config{
		Window:        time.Minute,
		MaxAttempts:   10,
		BlockDuration: 5 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// entry tracks attempts for a single key.
type entry struct {
	attempts     int
	windowStart  time.Time
	blockedUntil time.Time
}

// dead reports whether the entry carries no live state: its window has
// lapsed and any block has expired.
func (e *entry) dead(now time.Time, window time.Duration) bool {
	if !e.blockedUntil.IsZero() {
		return now.After(e.blockedUntil)
	}
	return now.Sub(e.windowStart) >= window
}

// MemoryLimiter is the single-process implementation. State lives in a map
// guarded by a mutex; a background goroutine sweeps out entries whose window
// and block have both lapsed so the map does not grow with every IP that
// ever touched the service.
type MemoryLimiter struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	stopCh  chan struct{}
}

// NewMemoryLimiter creates a limiter and starts its sweep goroutine. Call
// Stop on shutdown.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go l.sweep()

	return l
}

// Allow records an attempt for key and reports whether it is within the
// limit.
func (l *MemoryLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		l.entries[key] = &entry{attempts: 1, windowStart: now}
		return true
	}

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return false
		}
		// Block lapsed; the key starts over with a fresh window.
		e.attempts = 1
		e.windowStart = now
		e.blockedUntil = time.Time{}
		return true
	}

	if now.Sub(e.windowStart) >= l.cfg.Window {
		e.attempts = 1
		e.windowStart = now
		return true
	}

	e.attempts++
	if e.attempts > l.cfg.MaxAttempts {
		e.blockedUntil = now.Add(l.cfg.BlockDuration)
		return false
	}

	return true
}

// Reset forgets all state for key. Called after a successful authentication
// so earlier failed attempts stop counting against the client.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
}

// Stop terminates the sweep goroutine.
func (l *MemoryLimiter) Stop() {
	close(l.stopCh)
}

// sweep periodically evicts entries with no live window or block.
func (l *MemoryLimiter) sweep() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, e := range l.entries {
				if e.dead(now, l.cfg.Window) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Key builders. Every caller goes through these so the key namespaces for
// the different limited surfaces cannot collide.

// IPKey returns the limiter key for API-key attempts from a client address.
func IPKey(ip string) string {
	return "ip:" + ip
}

// KeyPrefixKey returns the limiter key for attempts against one stored
// API-key prefix, catching distributed guessing focused on a single key.
func KeyPrefixKey(prefix string) string {
	return "key:" + prefix
}

// LoginKey returns the limiter key for password login attempts from a client
// address.
func LoginKey(ip string) string {
	return "login:" + ip
}
