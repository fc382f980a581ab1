package cache

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTTL is the TTL applied when Set is called without one
	DefaultTTL = 5 * time.Minute

	// DefaultMaxSize is the entry bound applied when none is configured
	DefaultMaxSize = 100

	// DefaultName labels the metrics of an unnamed store
	DefaultName = "default"
)

// ErrInvalidPattern indicates an invalidation pattern that does not compile
var ErrInvalidPattern = errors.New("invalid invalidation pattern")

// Config holds Store configuration. Zero values fall back to the defaults.
type Config struct {
	// Name labels this store's metrics
	Name string

	// DefaultTTL is used when Set receives no TTL or a non-positive one
	DefaultTTL time.Duration

	// MaxSize bounds the number of entries (write-order eviction)
	MaxSize int

	// Clock is the time source (default: real clock)
	Clock clockwork.Clock
}

// Store is a key/entry map with per-entry TTL, write-order size bounding,
// pattern invalidation and hit/miss accounting. It is safe for concurrent use.
//
// Size bounding evicts the entries with the oldest write time first. Reads do
// not protect an entry from eviction; use pkg/lru when access order matters.
type Store[V any] struct {
	name       string
	defaultTTL time.Duration
	maxSize    int
	clock      clockwork.Clock
	stats      *StatsCollector

	mu      sync.Mutex
	entries map[string]*record[V]
	seq     uint64
}

// record pairs an entry with its write sequence, which breaks ties between
// entries written at the same instant.
type record[V any] struct {
	entry Entry[V]
	seq   uint64
}

// NewStore creates an empty store.
func NewStore[V any](cfg Config) *Store[V] {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Store[V]{
		name:       cfg.Name,
		defaultTTL: cfg.DefaultTTL,
		maxSize:    cfg.MaxSize,
		clock:      cfg.Clock,
		stats:      NewStatsCollector(cfg.Name),
		entries:    make(map[string]*record[V]),
	}
	s.stats.SetSize(0)
	return s
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl          time.Duration
	etag         string
	lastModified time.Time
}

// WithTTL overrides the store's default TTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithETag records the validator returned with the value.
func WithETag(etag string) SetOption {
	return func(o *setOptions) { o.etag = etag }
}

// WithLastModified records the Last-Modified time returned with the value.
func WithLastModified(t time.Time) SetOption {
	return func(o *setOptions) { o.lastModified = t }
}

// Set stores value under key, replacing any previous entry, and then evicts
// the oldest-written entries while the store exceeds its maximum size.
func (s *Store[V]) Set(key string, value V, opts ...SetOption) {
	o := setOptions{ttl: s.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.entries[key] = &record[V]{
		entry: Entry[V]{
			Value:        value,
			WrittenAt:    s.clock.Now(),
			TTL:          o.ttl,
			ETag:         o.etag,
			LastModified: o.lastModified,
		},
		seq: s.seq,
	}
	s.enforceMaxSizeLocked()
	s.stats.SetSize(len(s.entries))
}

// Get returns the live value for key. Absent and expired keys count as
// misses; an expired entry is deleted on the way out.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok {
		s.stats.Miss()
		return zero, false
	}

	if !rec.entry.IsLive(s.clock.Now()) {
		delete(s.entries, key)
		CacheEvictions.WithLabelValues(s.name, EvictExpired).Inc()
		s.stats.SetSize(len(s.entries))
		s.stats.Miss()
		return zero, false
	}

	s.stats.Hit()
	return rec.entry.Value, true
}

// Lookup returns the stored entry for key, live or not, without touching
// statistics. Callers use it to read validators for conditional revalidation.
func (s *Store[V]) Lookup(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	return rec.entry, true
}

// IsCached reports whether key holds a live entry. No statistics, no deletion.
func (s *Store[V]) IsCached(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	return ok && rec.entry.IsLive(s.clock.Now())
}

// IsExpired reports whether key is absent or past its TTL. No statistics, no deletion.
func (s *Store[V]) IsExpired(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	return !ok || !rec.entry.IsLive(s.clock.Now())
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	CacheEvictions.WithLabelValues(s.name, EvictInvalidated).Inc()
	s.stats.SetSize(len(s.entries))
	return true
}

// Invalidate removes every key matched by pattern and returns how many were
// removed. An empty pattern clears the store.
//
// The pattern is turned into a regular expression by replacing each "*" with
// ".*" and nothing else; other metacharacters keep their regex meaning, so "."
// matches any character. The expression is not anchored and matches anywhere
// in the key. A pattern that fails to compile removes nothing.
func (s *Store[V]) Invalidate(pattern string) (int, error) {
	if pattern == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		n := len(s.entries)
		s.clearLocked()
		CacheEvictions.WithLabelValues(s.name, EvictInvalidated).Add(float64(n))
		return n, nil
	}

	re, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}
	return s.InvalidateMatching(re), nil
}

// InvalidateMatching removes every key re matches anywhere and returns how
// many were removed.
func (s *Store[V]) InvalidateMatching(re *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if re.MatchString(key) {
			delete(s.entries, key)
			removed++
		}
	}
	CacheEvictions.WithLabelValues(s.name, EvictInvalidated).Add(float64(removed))
	s.stats.SetSize(len(s.entries))
	return removed
}

// CompilePattern converts an invalidation pattern into the regular expression
// Invalidate matches keys against.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(strings.ReplaceAll(pattern, "*", ".*"))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// Clear removes every entry. Hit and miss counters are kept.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Cleanup deletes every expired entry, then applies the size bound, and
// returns the number of entries removed.
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, rec := range s.entries {
		if !rec.entry.IsLive(now) {
			delete(s.entries, key)
			removed++
		}
	}
	CacheEvictions.WithLabelValues(s.name, EvictExpired).Add(float64(removed))

	removed += s.enforceMaxSizeLocked()
	s.stats.SetSize(len(s.entries))
	s.stats.MarkCleanup(now)
	return removed
}

// Len is the number of stored entries, including expired ones not yet purged.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys in write order, oldest first.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOrderLocked()
}

// Stats returns the current counters.
func (s *Store[V]) Stats() Stats {
	return s.stats.Snapshot()
}

// HitRate is hits / (hits + misses), 0 before the first read.
func (s *Store[V]) HitRate() float64 {
	return s.stats.HitRate()
}

// ResetStats zeroes the hit and miss counters.
func (s *Store[V]) ResetStats() {
	s.stats.Reset()
}

// Name is the metrics label of this store.
func (s *Store[V]) Name() string {
	return s.name
}

// DefaultTTL is the TTL applied when Set is given none.
func (s *Store[V]) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// clearLocked must be called with s.mu held.
func (s *Store[V]) clearLocked() {
	s.entries = make(map[string]*record[V])
	s.stats.SetSize(0)
}

// enforceMaxSizeLocked evicts oldest-written entries until the store is within
// maxSize. Must be called with s.mu held.
func (s *Store[V]) enforceMaxSizeLocked() int {
	over := len(s.entries) - s.maxSize
	if over <= 0 {
		return 0
	}

	for _, key := range s.writeOrderLocked()[:over] {
		delete(s.entries, key)
	}
	CacheEvictions.WithLabelValues(s.name, EvictCapacity).Add(float64(over))
	return over
}

// writeOrderLocked returns keys sorted by ascending write time, then write
// sequence. Must be called with s.mu held.
func (s *Store[V]) writeOrderLocked() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.entries[keys[i]], s.entries[keys[j]]
		if !a.entry.WrittenAt.Equal(b.entry.WrittenAt) {
			return a.entry.WrittenAt.Before(b.entry.WrittenAt)
		}
		return a.seq < b.seq
	})
	return keys
}
