// Package lru provides a capacity-bounded key/value cache with strict
// access-order (least-recently-used) eviction.
//
// Unlike the TTL store in pkg/cache, entries here never expire: capacity is the
// only eviction trigger, and every successful Get refreshes an entry's recency.
// A key that keeps getting read survives any amount of churn from cold keys.
package lru

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidCapacity is returned by New when capacity is not positive.
var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

// Cache is a fixed-capacity LRU cache. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	entries  *lru.Cache[K, V]
	capacity int
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	entries, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{entries: entries, capacity: capacity}, nil
}

// Get returns the value for key and marks it most recently used.
// A miss does not mutate the cache.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Peek returns the value for key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.entries.Peek(key)
}

// Set inserts or replaces key at the most-recently-used end. When a new key
// arrives at capacity, the least recently used entry is evicted first.
// Reports whether an eviction happened.
func (c *Cache[K, V]) Set(key K, value V) bool {
	return c.entries.Add(key, value)
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	return c.entries.Remove(key)
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.entries.Purge()
}

// Len is the exact number of entries.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Capacity is the maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	return c.entries.Keys()
}
