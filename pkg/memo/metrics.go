package memo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memoHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_memo_hits_total",
		Help: "Total memoized computations served from the table",
	}, []string{"memo"})

	memoMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_memo_misses_total",
		Help: "Total memoized computations that ran the factory",
	}, []string{"memo"})

	idleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycache_idle_fallbacks_total",
		Help: "Total idle tasks started immediately because the idle queue was full or closed",
	})
)
