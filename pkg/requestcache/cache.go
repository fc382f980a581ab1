// Package requestcache is the single entry point applications use to cache
// request results. A Cache combines the expiring entry store, the in-flight
// loading tracker and the background revalidation registry, and adds a fetch
// wrapper that deduplicates concurrent productions and retries failing ones.
//
// There is no package-level instance. Build one Cache with New and pass it to
// whatever needs it.
package requestcache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/loading"
	"github.com/Sternrassler/query-cache/pkg/memo"
	"github.com/Sternrassler/query-cache/pkg/revalidate"
)

// SnapshotStore saves and loads the cache contents across restarts.
// *persist.Persister[json.RawMessage] implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap cache.Snapshot[json.RawMessage]) error
	Load(ctx context.Context) (cache.Snapshot[json.RawMessage], error)
}

// Config holds the cache configuration.
type Config struct {
	// Name labels metrics and log lines (default: cache.DefaultName)
	Name string

	// DefaultTTL applies to entries stored without an explicit TTL
	DefaultTTL time.Duration

	// MaxSize bounds the number of entries
	MaxSize int

	// MemoCapacity bounds the table of compiled invalidation patterns
	MemoCapacity int

	// Clock is the time source shared by the store and the loading tracker
	Clock clockwork.Clock

	// Persister enables Suspend and Resume (optional)
	Persister SnapshotStore

	// Registry is the revalidation registry to use (optional, a new one is
	// created when nil)
	Registry *revalidate.Registry

	// Retry is the policy Fetch uses unless overridden per call
	// (default: NoRetry)
	Retry RetryPolicy

	Logger zerolog.Logger
}

// Cache is a request result cache. Values are held as JSON so every read
// decodes a private copy and snapshots round-trip exactly.
type Cache struct {
	name      string
	store     *cache.Store[json.RawMessage]
	loading   *loading.Tracker
	registry  *revalidate.Registry
	patterns  *memo.Memoizer[*regexp.Regexp]
	persister SnapshotStore
	retry     RetryPolicy
	clock     clockwork.Clock
	logger    zerolog.Logger

	flights singleflight.Group
}

// New creates a cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Name == "" {
		cfg.Name = cache.DefaultName
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MemoCapacity <= 0 {
		cfg.MemoCapacity = memo.DefaultCapacity
	}
	if cfg.Registry == nil {
		cfg.Registry = revalidate.NewRegistry()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = NoRetry()
	}

	patterns, err := memo.New[*regexp.Regexp](cfg.MemoCapacity,
		memo.WithName(cfg.Name+"-patterns"),
		memo.WithClock(cfg.Clock),
	)
	if err != nil {
		return nil, fmt.Errorf("create pattern table: %w", err)
	}

	return &Cache{
		name: cfg.Name,
		store: cache.NewStore[json.RawMessage](cache.Config{
			Name:       cfg.Name,
			DefaultTTL: cfg.DefaultTTL,
			MaxSize:    cfg.MaxSize,
			Clock:      cfg.Clock,
		}),
		loading:   loading.NewTracker(cfg.Clock),
		registry:  cfg.Registry,
		patterns:  patterns,
		persister: cfg.Persister,
		retry:     cfg.Retry,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "requestcache").Str("cache", cfg.Name).Logger(),
	}, nil
}

// Set encodes value as JSON and stores it under key.
func Set[T any](c *Cache, key string, value T, opts ...cache.SetOption) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	c.store.Set(key, data, opts...)
	c.logger.Debug().Str("key", key).Msg("Cache set")
	return nil
}

// Get returns the live value stored under key. A value that no longer decodes
// into T is reported as a miss.
func Get[T any](c *Cache, key string) (T, bool) {
	var zero T

	data, ok := c.store.Get(key)
	if !ok {
		c.logger.Debug().Str("key", key).Msg("Cache miss")
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cached value does not decode")
		return zero, false
	}
	c.logger.Debug().Str("key", key).Msg("Cache hit")
	return value, true
}

// Invalidate removes every key matching pattern and returns the count.
// See cache.Store.Invalidate for the pattern syntax. An invalid pattern is
// logged and removes nothing.
func (c *Cache) Invalidate(pattern string) int {
	if pattern == "" {
		n, _ := c.store.Invalidate("")
		c.logger.Debug().Int("removed", n).Msg("Cache cleared by invalidation")
		return n
	}

	re, err := c.patterns.ComputeOrFetch(context.Background(), pattern, 0, func(context.Context) (*regexp.Regexp, error) {
		return cache.CompilePattern(pattern)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalid invalidation pattern")
		return 0
	}

	n := c.store.InvalidateMatching(re)
	c.logger.Debug().Str("pattern", pattern).Int("removed", n).Msg("Cache invalidated")
	return n
}

// Clear removes every entry. Statistics counters are kept.
func (c *Cache) Clear() {
	c.store.Clear()
}

// Cleanup purges expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	n := c.store.Cleanup()
	if n > 0 {
		c.logger.Debug().Int("removed", n).Msg("Cleanup removed expired entries")
	}
	return n
}

// IsCached reports whether key holds a live value. It does not count as a read.
func (c *Cache) IsCached(key string) bool { return c.store.IsCached(key) }

// IsExpired reports whether key is absent or expired. It does not count as a read.
func (c *Cache) IsExpired(key string) bool { return c.store.IsExpired(key) }

// HitRate is hits / (hits + misses), 0 before any read.
func (c *Cache) HitRate() float64 { return c.store.HitRate() }

// Stats returns a copy of the current statistics.
func (c *Cache) Stats() cache.Stats { return c.store.Stats() }

// Len is the number of entries, expired ones included until cleanup.
func (c *Cache) Len() int { return c.store.Len() }

// Keys returns every stored key.
func (c *Cache) Keys() []string { return c.store.Keys() }

// Lookup returns the raw entry under key even when it has expired, without
// touching statistics. It is used to revalidate with the entry's validators.
func (c *Cache) Lookup(key string) (cache.Entry[json.RawMessage], bool) {
	return c.store.Lookup(key)
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// SetLoadingState merges patches onto key's loading state.
func (c *Cache) SetLoadingState(key string, patches ...loading.Patch) loading.State {
	return c.loading.Set(key, patches...)
}

// LoadingState returns key's loading state, the zero state when none is recorded.
func (c *Cache) LoadingState(key string) loading.State {
	return c.loading.Get(key)
}

// ClearLoadingState forgets key's loading state.
func (c *Cache) ClearLoadingState(key string) {
	c.loading.Clear(key)
}

// StaleLoadingStates lists keys that have been in flight for longer than
// maxAge. They are reported only, never cleared.
func (c *Cache) StaleLoadingStates(maxAge time.Duration) []string {
	return c.loading.Stale(maxAge)
}

// EnableRevalidation registers key for background revalidation.
func (c *Cache) EnableRevalidation(key string) {
	c.registry.Add(key)
}

// DisableRevalidation unregisters key.
func (c *Cache) DisableRevalidation(key string) {
	c.registry.Remove(key)
}

// RevalidationKeys lists registered keys in registration order.
func (c *Cache) RevalidationKeys() []string {
	return c.registry.List()
}

// Registry returns the revalidation registry, for wiring a revalidate.Scheduler.
func (c *Cache) Registry() *revalidate.Registry {
	return c.registry
}
