package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, GenerateKey("weather", "paris"), GenerateKey("weather", "paris"))
	assert.NotEqual(t, GenerateKey("ab", "c"), GenerateKey("a", "bc"))
	assert.Len(t, GenerateKey("x"), 64)
}

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_Purge(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("old", 1)
	now = now.Add(30 * time.Second)
	c.Set("new", 2)
	now = now.Add(45 * time.Second)
	c.Purge()

	_, ok := c.entries.Load("old")
	assert.False(t, ok)
	v, ok := c.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTTLCache_Disabled(t *testing.T) {
	c := NewTTLCache[string](0)
	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
