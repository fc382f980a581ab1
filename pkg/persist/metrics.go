package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_snapshot_operations_total",
		Help: "Total snapshot saves and loads by outcome",
	}, []string{"operation", "outcome"}) // operation: "save", "load"

	snapshotBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "querycache_snapshot_bytes",
		Help: "Size of the last saved or loaded snapshot",
	}, []string{"codec"})
)
