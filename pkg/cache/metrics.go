package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons used as the "reason" label of CacheEvictions.
const (
	EvictCapacity    = "capacity"
	EvictExpired     = "expired"
	EvictInvalidated = "invalidated"
)

var (
	// CacheHits tracks reads that returned a live value
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks reads that returned nothing (absent or expired)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// CacheEntries tracks the current number of entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querycache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_evictions_total",
			Help: "Total number of removed cache entries by reason",
		},
		[]string{"cache", "reason"}, // "capacity", "expired", "invalidated"
	)

	// CacheCleanups tracks cleanup sweeps
	CacheCleanups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_cleanups_total",
			Help: "Total number of cleanup sweeps",
		},
		[]string{"cache"},
	)
)
