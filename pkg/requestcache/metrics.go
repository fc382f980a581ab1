package requestcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes used as the "outcome" label of fetchesTotal.
const (
	outcomeHit     = "hit"
	outcomeFetched = "fetched"
	outcomeError   = "error"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_fetches_total",
		Help: "Total Fetch calls by outcome",
	}, []string{"cache", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycache_fetch_duration_seconds",
		Help:    "Time spent producing a value, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"cache"})

	sharedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_shared_fetches_total",
		Help: "Total Fetch calls that joined a production started by another caller",
	}, []string{"cache"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_retries_total",
		Help: "Total producer retry attempts",
	}, []string{"cache"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycache_retry_backoff_seconds",
		Help:    "Backoff duration before a producer retry",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"cache"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their retry attempts",
	}, []string{"cache"})
)
