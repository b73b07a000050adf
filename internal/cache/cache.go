// Package cache implements a small in-process TTL cache on top of ristretto.
package cache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache stores values of type V under string keys. Every entry has a cost
// of 1, so maxItems bounds the number of live entries.
type Cache[V any] struct {
	c   *ristretto.Cache[string, V]
	ttl time.Duration

	mu         sync.Mutex
	generation uint64
}

// New creates a cache holding up to maxItems entries for ttl each. A
// non-positive ttl disables caching: Set becomes a no-op.
func New[V any](maxItems int64, ttl time.Duration) (*Cache[V], error) {
	if maxItems < 1 {
		maxItems = 1
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxItems * 10,
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &Cache[V]{c: c, ttl: ttl}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores value under key. The write is visible to Get when Set returns.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// Generation identifies the cache contents between two calls to Clear.
// Pass it to SetIfGeneration to store a value computed after reading it.
func (c *Cache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfGeneration stores value only if Clear has not run since generation
// was read. It reports whether the value was stored.
func (c *Cache[V]) SetIfGeneration(key string, value V, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	return c.set(key, value)
}

func (c *Cache[V]) set(key string, value V) bool {
	if c.ttl <= 0 {
		return false
	}
	ok := c.c.SetWithTTL(key, value, 1, c.ttl)
	c.c.Wait()
	return ok
}

// Clear drops every entry and starts a new generation.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.c.Clear()
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
