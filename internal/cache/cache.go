package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Entry is a cached value with the time it was stored.
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// GenerateKey hashes the given parts into a cache key. Parts are
// length-prefixed so ("ab","c") and ("a","bc") differ.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TTLCache is a concurrency-safe map whose entries expire after ttl.
// A zero ttl disables caching.
type TTLCache[V any] struct {
	ttl     time.Duration
	entries sync.Map
	now     func() time.Time
}

// NewTTLCache creates a cache with the given entry lifetime.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{ttl: ttl, now: time.Now}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	raw, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(Entry[V])
	if c.now().Sub(e.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key.
func (c *TTLCache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Store(key, Entry[V]{Value: value, Timestamp: c.now()})
}

// Purge drops every expired entry.
func (c *TTLCache[V]) Purge() {
	now := c.now()
	c.entries.Range(func(k, raw any) bool {
		if now.Sub(raw.(Entry[V]).Timestamp) > c.ttl {
			c.entries.Delete(k)
		}
		return true
	})
}
