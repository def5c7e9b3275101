// Package cache holds the read-through user status cache that sits between
// the auth middleware and the user store. Access tokens are stateless, so a
// suspension or role change only takes effect when the middleware re-reads
// the account; doing that from storage on every request would put the user
// table on the hot path. The cache bounds that staleness to one short TTL
// while absorbing nearly all of the read load. Lookups for the same user
// that miss concurrently are collapsed into a single storage query.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/agentplane/agentplane/internal/db/models"
	"github.com/agentplane/agentplane/internal/telemetry"
)

// UserStore is the slice of the user repository the cache reads through to.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// UserStatus is the part of the user record the middleware needs on every
// request.
type UserStatus struct {
	IsActive bool
	Role     string
}

// UserStatusCache is a TTL cache over UserStore keyed by user ID.
type UserStatusCache struct {
	users UserStore
	store *gocache.Cache
	group singleflight.Group
	ttl   time.Duration
}

// NewUserStatusCache creates a cache whose entries live for ttl.
func NewUserStatusCache(users UserStore, ttl time.Duration) *UserStatusCache {
	return &UserStatusCache{
		users: users,
		store: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

// Get returns the current status for userID, reading through to storage on a
// miss. It returns (nil, nil) when the user does not exist; absence is not
// cached, so a lookup racing user creation resolves on the next request.
// Storage errors propagate to the caller, which owns the fail-open decision.
func (c *UserStatusCache) Get(ctx context.Context, userID string) (*UserStatus, error) {
	if v, ok := c.store.Get(userID); ok {
		telemetry.UserStatusCacheHitsTotal.Inc()
		return v.(*UserStatus), nil
	}

	telemetry.UserStatusCacheMissesTotal.Inc()

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		user, err := c.users.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, nil
		}

		status := &UserStatus{IsActive: user.IsActive, Role: user.Role}
		c.store.Set(userID, status, c.ttl)
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*UserStatus), nil
}

// Invalidate drops the cached status for userID. Admin mutations call this
// so suspensions and role changes bite immediately instead of after the TTL.
func (c *UserStatusCache) Invalidate(userID string) {
	c.store.Delete(userID)
}

// Clear drops every cached entry.
func (c *UserStatusCache) Clear() {
	c.store.Flush()
}
