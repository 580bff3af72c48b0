// Package cache provides small in-process caches with expiry.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// DefaultMaxEntries bounds caches created without a size.
const DefaultMaxEntries = 1024

// TTL is a size-bounded LRU cache whose entries expire after a fixed time.
// A zero ttl keeps entries until they are evicted.
type TTL[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// NewTTL creates a cache holding at most maxEntries values.
func NewTTL[V any](maxEntries int, ttl time.Duration) *TTL[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TTL[V]{lru: lru.New(maxEntries), ttl: ttl, now: time.Now}
}

// Get returns the live value under key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	raw, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	e := raw.(ttlEntry[V])
	if c.expired(e) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its expiry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := ttlEntry[V]{value: value}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.lru.Add(key, e)
}

// Remove drops key.
func (c *TTL[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len counts stored entries, expired ones included until touched.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *TTL[V]) expired(e ttlEntry[V]) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}
