// Package cache provides a small in-memory TTL store for recently served
// market data responses.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is used when a Cache is constructed with a non-positive TTL.
const DefaultTTL = 1 * time.Second

// DefaultMaxEntries bounds the cache when no limit is configured.
const DefaultMaxEntries = 10000

type item struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe key/value store with per-entry expiry.
// Expired entries are dropped lazily on read and swept when the store
// hits its size bound.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	items map[string]item
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache with the given TTL and entry bound.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c := &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		items:      make(map[string]item),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(it.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the cache's TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxEntries {
		c.sweepLocked()
	}
	// Still full after the sweep: drop the write rather than grow unbounded.
	if len(c.items) >= c.maxEntries {
		if _, exists := c.items[key]; !exists {
			return
		}
	}

	c.items[key] = item{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, it := range c.items {
		if now.Before(it.expiresAt) {
			n++
		}
	}
	return n
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for k, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, k)
		}
	}
}
