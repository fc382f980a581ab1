package revalidate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	revalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_revalidations_total",
		Help: "Total background revalidations by outcome",
	}, []string{"outcome"}) // "success", "error"

	revalidationPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "querycache_revalidation_pass_duration_seconds",
		Help:    "Duration of a full background revalidation pass",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30},
	})

	scheduledKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "querycache_revalidation_keys",
		Help: "Number of keys in the last revalidation pass",
	})
)
