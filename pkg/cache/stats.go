package cache

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of a store's counters.
type Stats struct {
	Hits          uint64    `json:"hits" msgpack:"hits"`
	Misses        uint64    `json:"misses" msgpack:"misses"`
	Size          int       `json:"size" msgpack:"size"`
	LastCleanupAt time.Time `json:"last_cleanup_at" msgpack:"last_cleanup_at"`
}

// HitRate is hits / (hits + misses), or 0 when nothing has been read yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsCollector accumulates hit/miss counts and tracks size and the last
// cleanup time. Counters are mirrored to Prometheus under the collector's name.
type StatsCollector struct {
	name string

	mu    sync.Mutex
	stats Stats
}

// NewStatsCollector creates a collector whose metrics are labelled with name.
func NewStatsCollector(name string) *StatsCollector {
	return &StatsCollector{name: name}
}

// Hit records a read that returned a live value.
func (c *StatsCollector) Hit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	CacheHits.WithLabelValues(c.name).Inc()
}

// Miss records a read that returned nothing.
func (c *StatsCollector) Miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	CacheMisses.WithLabelValues(c.name).Inc()
}

// SetSize records the current entry count.
func (c *StatsCollector) SetSize(n int) {
	c.mu.Lock()
	c.stats.Size = n
	c.mu.Unlock()
	CacheEntries.WithLabelValues(c.name).Set(float64(n))
}

// MarkCleanup stamps the time of the last cleanup sweep.
func (c *StatsCollector) MarkCleanup(at time.Time) {
	c.mu.Lock()
	c.stats.LastCleanupAt = at
	c.mu.Unlock()
	CacheCleanups.WithLabelValues(c.name).Inc()
}

// Snapshot returns a copy of the current counters.
func (c *StatsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// HitRate is the hit rate of the current counters.
func (c *StatsCollector) HitRate() float64 {
	return c.Snapshot().HitRate()
}

// Restore replaces the historical counters with persisted totals. Size is
// left alone: the owning store recomputes it from the restored entries.
func (c *StatsCollector) Restore(s Stats) {
	c.mu.Lock()
	c.stats.Hits = s.Hits
	c.stats.Misses = s.Misses
	c.stats.LastCleanupAt = s.LastCleanupAt
	c.mu.Unlock()
}

// Reset zeroes the hit and miss counters.
func (c *StatsCollector) Reset() {
	c.mu.Lock()
	c.stats.Hits = 0
	c.stats.Misses = 0
	c.mu.Unlock()
}
