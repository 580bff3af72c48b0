package cache

import (
	"strconv"
	"time"
)

// DedupeCache remembers recently seen keys so redelivered updates are
// handled once.
type DedupeCache struct {
	seen *TTL[struct{}]
}

// DedupeCacheOptions configures a DedupeCache.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache creates a cache. Sizes <= 0 use DefaultMaxEntries.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	return &DedupeCache{seen: NewTTL[struct{}](opts.MaxSize, opts.TTL)}
}

// Check reports whether key was seen within the TTL and records it.
// The empty key is never a duplicate.
func (c *DedupeCache) Check(key string) bool {
	if key == "" {
		return false
	}
	c.seen.mu.Lock()
	defer c.seen.mu.Unlock()

	if raw, ok := c.seen.lru.Get(key); ok && !c.seen.expired(raw.(ttlEntry[struct{}])) {
		return true
	}
	e := ttlEntry[struct{}]{}
	if c.seen.ttl > 0 {
		e.expires = c.seen.now().Add(c.seen.ttl)
	}
	c.seen.lru.Add(key, e)
	return false
}

// Size returns the number of remembered keys.
func (c *DedupeCache) Size() int {
	return c.seen.Len()
}

// MessageDedupeKey identifies a message across chats. Edits share the key
// of the original message, so kind separates deliveries of the same id.
func MessageDedupeKey(kind string, chatID int64, messageID int) string {
	if messageID == 0 {
		return ""
	}
	return kind + ":" + strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}
