// Package metrics provides the Prometheus registry and HTTP exposition used by
// the query cache. Collectors are defined in their own packages (cache,
// requestcache, upstream, memo, revalidate, persist) and registered via
// promauto, which keeps this package free of import cycles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the query cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/cache), labelled by cache name:
//   - querycache_hits_total{cache} (Counter): Reads that returned a live value
//   - querycache_misses_total{cache} (Counter): Reads of absent or expired keys
//   - querycache_entries{cache} (Gauge): Current entry count
//   - querycache_evictions_total{cache, reason} (Counter): Removals (capacity, expired, invalidated)
//   - querycache_cleanups_total{cache} (Counter): Cleanup sweeps
//
// Fetch Metrics (pkg/requestcache), labelled by cache name:
//   - querycache_fetches_total{cache, outcome} (Counter): Fetch calls (hit, fetched, error)
//   - querycache_fetch_duration_seconds{cache} (Histogram): Producer time including retries
//   - querycache_shared_fetches_total{cache} (Counter): Fetches that joined another caller's production
//   - querycache_retries_total{cache} (Counter): Producer retry attempts
//   - querycache_retry_backoff_seconds{cache} (Histogram): Wait before each retry
//   - querycache_retry_exhausted_total{cache} (Counter): Fetches that ran out of attempts
//
// Upstream Metrics (pkg/upstream):
//   - querycache_upstream_requests_total{status} (Counter): Requests by HTTP status
//   - querycache_upstream_request_duration_seconds{conditional} (Histogram): Request duration
//   - querycache_upstream_errors_total{class} (Counter): Errors by class
//   - querycache_upstream_not_modified_total (Counter): 304 Not Modified responses
//
// Memo Metrics (pkg/memo):
//   - querycache_memo_hits_total{memo} / querycache_memo_misses_total{memo} (Counter)
//   - querycache_idle_fallbacks_total (Counter): Idle tasks started immediately
//
// Revalidation Metrics (pkg/revalidate):
//   - querycache_revalidations_total{outcome} (Counter): Per-key revalidations
//   - querycache_revalidation_pass_duration_seconds (Histogram): Full pass duration
//   - querycache_revalidation_keys (Gauge): Keys in the last pass
//
// Persistence Metrics (pkg/persist):
//   - querycache_snapshot_operations_total{operation, outcome} (Counter): Saves and loads
//   - querycache_snapshot_bytes{codec} (Gauge): Size of the last snapshot
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(querycache_hits_total[5m])) /
//   (sum(rate(querycache_hits_total[5m])) + sum(rate(querycache_misses_total[5m])))
//
//   # Eviction pressure (size bound too small)
//   rate(querycache_evictions_total{reason="capacity"}[5m])
//
//   # 304 Response Rate
//   rate(querycache_upstream_not_modified_total[5m]) / sum(rate(querycache_upstream_requests_total[5m]))
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(querycache_fetch_duration_seconds_bucket[5m]))
