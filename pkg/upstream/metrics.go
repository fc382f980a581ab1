package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querycache_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"conditional"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	// NotModifiedResponses counts conditional requests answered with 304
	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycache_upstream_not_modified_total",
		Help: "Total 304 Not Modified responses",
	})
)
