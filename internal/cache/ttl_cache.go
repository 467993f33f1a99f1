// Package cache provides a small goroutine-safe map cache with per-entry expiry.
package cache

import (
	"context"
	"sync"
	"time"
)

// entry stores a cached value and its absolute expiration timestamp.
type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiration
}

// TTLCache is a map-backed cache with optional per-item TTL and an optional
// capacity bound. Expired entries are ignored on read and dropped by
// PurgeExpired or the janitor started with Run.
type TTLCache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]entry[V]
	maxItems int
	now      func() time.Time
}

// New returns an empty cache. maxItems <= 0 means unbounded; when the bound is
// reached, Set first purges expired entries and then refuses new keys.
func New[K comparable, V any](maxItems int) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items:    make(map[K]entry[V]),
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Get returns the value and whether it was present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.items[key]
	if !ok || c.expired(e, c.now()) {
		return zero, false
	}
	return e.value, true
}

// Set stores the value. If ttl <= 0, the entry does not expire. It reports
// whether the value was stored.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.purgeLocked(now)
		if len(c.items) >= c.maxItems {
			return false
		}
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.items[key] = entry[V]{value: value, expiresAt: exp}
	return true
}

// Delete removes a key if present.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of non-expired items currently stored.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	count := 0
	for _, e := range c.items {
		if !c.expired(e, now) {
			count++
		}
	}
	return count
}

// PurgeExpired removes expired entries.
func (c *TTLCache[K, V]) PurgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
}

// Run purges expired entries every interval until ctx is done.
func (c *TTLCache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PurgeExpired()
		}
	}
}

func (c *TTLCache[K, V]) purgeLocked(now time.Time) {
	for k, e := range c.items {
		if c.expired(e, now) {
			delete(c.items, k)
		}
	}
}

func (c *TTLCache[K, V]) expired(e entry[V], now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
