// Package dedup provides a bounded set of idempotency keys with FIFO
// eviction. It is a short-circuit for replayed events, not a correctness
// mechanism: consumers must stay idempotent when a key has been evicted.
package dedup

import "sync"

const DefaultCapacity = 10000

// Cache is a fixed-capacity set of opaque keys. When capacity is exceeded
// the oldest key is evicted.
type Cache struct {
	mu       sync.Mutex
	keys     map[string]struct{}
	order    []string
	capacity int
}

// NewCache creates a cache. A non-positive capacity falls back to
// DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		keys:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Contains reports whether key is present.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

// Add inserts key and reports whether it was newly added. The check and
// insert happen under one lock, so concurrent callers cannot both observe
// the key as new.
func (c *Cache) Add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keys[key]; ok {
		return false
	}

	c.keys[key] = struct{}{}
	c.order = append(c.order, key)

	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.keys, oldest)
	}
	return true
}

// Len returns the number of keys currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}
