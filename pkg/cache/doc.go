// Package cache provides the in-process response store behind the request cache.
//
// A Store maps string keys to entries carrying a value, the time it was
// written and a TTL. It offers:
//
// - Per-entry TTL with an inclusive boundary (live while now-writtenAt <= ttl)
// - Lazy expiry on read plus an explicit Cleanup sweep
// - A size bound enforced by write order (oldest write evicted first)
// - Glob-style pattern invalidation ("users/*")
// - Hit/miss accounting and Prometheus metrics
// - Snapshot/Restore for persistence across process restarts
//
// # Basic Usage
//
//	store := cache.NewStore[[]byte](cache.Config{
//		Name:       "api",
//		DefaultTTL: 5 * time.Minute,
//		MaxSize:    100,
//	})
//
//	key := cache.NewKey("users", "page", "2").String() // "users:page=2"
//	store.Set(key, body, cache.WithTTL(time.Minute), cache.WithETag(etag))
//
//	if body, ok := store.Get(key); ok {
//		// hit
//	}
//
// # Invalidation
//
// Patterns are matched as unanchored regular expressions after every "*" is
// replaced by ".*". No other character is escaped, so "." matches any
// character. The empty pattern clears the store.
//
//	removed, err := store.Invalidate("users/*")
//
// # Eviction Order
//
// The size bound is not LRU: reading an entry does not protect it. Callers
// that need access-order eviction use pkg/lru instead.
//
// # Metrics
//
//   - querycache_hits_total{cache} - Reads that returned a live value
//   - querycache_misses_total{cache} - Reads of absent or expired keys
//   - querycache_entries{cache} - Current entry count
//   - querycache_evictions_total{cache,reason} - Removed entries
//   - querycache_cleanups_total{cache} - Cleanup sweeps
package cache
