// Package dedupe implements the TTL-bounded seen-key set that gates every
// mutation path of the ingestion pipeline. A process-local map always
// backs it; an optional external backend (valkey) makes the set survive
// restarts and span replicas.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTTL covers message, ACK and allocation keys alike.
const DefaultTTL = 24 * time.Hour

// DefaultMaxEntries bounds the local map. Crossing it triggers a massive
// purge: the whole map is cleared with a warning rather than evicting
// piecemeal.
const DefaultMaxEntries = 10_000

// Backend is an external shared seen-set. Errors are tolerated: the cache
// logs them and falls back to the local map.
type Backend interface {
	Has(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
}

// Cache is safe for concurrent use by all request tasks.
type Cache struct {
	mu         sync.Mutex
	local      map[string]time.Time
	maxEntries int
	backend    Backend
}

type Option func(*Cache)

// WithBackend attaches an external backend consulted before the local map.
func WithBackend(b Backend) Option {
	return func(c *Cache) { c.backend = b }
}

// WithMaxEntries overrides the local map bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		local:      make(map[string]time.Time),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Skip reports whether key has already been registered and is still
// within its TTL. It registers nothing.
func (c *Cache) Skip(ctx context.Context, key string, now time.Time) bool {
	if key == "" {
		return false
	}

	if c.backend != nil {
		seen, err := c.backend.Has(ctx, key)
		if err != nil {
			logrus.WithError(err).Warn("[DEDUPE] External backend lookup failed, falling back to local map")
		} else if seen {
			return true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)

	expiresAt, ok := c.local[key]
	return ok && now.Before(expiresAt)
}

// Register records key for ttl. A non-positive ttl is a no-op. Registering
// an already-known key refreshes its expiry.
func (c *Cache) Register(ctx context.Context, key string, now time.Time, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}

	if c.backend != nil {
		if err := c.backend.Set(ctx, key, ttl); err != nil {
			logrus.WithError(err).Warn("[DEDUPE] External backend write failed, registering locally")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	c.local[key] = now.Add(ttl)
}

// Reset clears the local map. Test hook; the external backend is left
// untouched.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = make(map[string]time.Time)
}

// Size returns the current local entry count.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// pruneLocked removes expired entries and performs the massive purge when
// the map outgrows its bound. Caller holds c.mu.
func (c *Cache) pruneLocked(now time.Time) {
	for key, expiresAt := range c.local {
		if !now.Before(expiresAt) {
			delete(c.local, key)
		}
	}
	if len(c.local) > c.maxEntries {
		logrus.Warnf("[DEDUPE] Local map exceeded %d entries, performing massive purge", c.maxEntries)
		c.local = make(map[string]time.Time)
	}
}
