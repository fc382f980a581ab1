package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/memo"
	"github.com/Sternrassler/query-cache/pkg/metrics"
	"github.com/Sternrassler/query-cache/pkg/requestcache"
	"github.com/Sternrassler/query-cache/pkg/upstream"
)

const (
	// requestTimeout bounds a proxied request, upstream retries included
	requestTimeout = 30 * time.Second

	// reportTTL is how long a computed cache report is reused
	reportTTL = 5 * time.Second

	// defaultMaxTargets is the target count that triggers pruning
	defaultMaxTargets = 1024
)

// server proxies GET requests to the upstream API through the request cache
// and exposes cache administration endpoints.
type server struct {
	cache      *requestcache.Cache
	upstream   *upstream.Client
	redis      redis.Cmdable
	reports    *memo.Memoizer[cacheReport]
	staleAfter time.Duration
	clock      clockwork.Clock
	logger     zerolog.Logger

	// targets maps cache keys to upstream requests. A target is kept while
	// its key is cached or registered for revalidation.
	mu         sync.RWMutex
	targets    map[string]cache.Key
	maxTargets int
}

// serverDeps are the collaborators a server is built from. Redis is optional.
type serverDeps struct {
	Cache      *requestcache.Cache
	Upstream   *upstream.Client
	Redis      redis.Cmdable
	Reports    *memo.Memoizer[cacheReport]
	StaleAfter time.Duration
	Clock      clockwork.Clock
	Logger     zerolog.Logger

	// MaxTargets is the target count at which unused targets are pruned
	MaxTargets int
}

func newServer(deps serverDeps) *server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.MaxTargets <= 0 {
		deps.MaxTargets = defaultMaxTargets
	}
	return &server{
		cache:      deps.Cache,
		upstream:   deps.Upstream,
		redis:      deps.Redis,
		reports:    deps.Reports,
		staleAfter: deps.StaleAfter,
		clock:      deps.Clock,
		logger:     deps.Logger.With().Str("component", "proxy").Logger(),
		targets:    make(map[string]cache.Key),
		maxTargets: deps.MaxTargets,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(s.redis))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/{resource...}", s.proxyHandler)
	mux.HandleFunc("GET /cache/stats", s.statsHandler)
	mux.HandleFunc("POST /cache/invalidate", s.invalidateHandler)
	mux.HandleFunc("POST /cache/revalidate", s.revalidateHandler)
	mux.HandleFunc("DELETE /cache/revalidate", s.revalidateHandler)
	mux.HandleFunc("GET /cache/loading", s.loadingHandler)
	mux.HandleFunc("GET /cache/report", s.reportHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the snapshot Redis is unreachable. Without
// Redis the service is always ready.
func readyHandler(redisClient redis.Cmdable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// proxyHandler serves /api/{resource...} from the cache, fetching from the
// upstream on a miss. The response carries X-Cache: HIT or MISS.
func (s *server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	target := cache.Key{Resource: r.PathValue("resource"), Params: r.URL.Query()}
	key := target.String()
	s.remember(key, target)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	body, src, err := requestcache.FetchWithMeta(ctx, s.cache, key, s.producer(target, key))
	if err != nil {
		s.writeFetchError(w, key, err)
		return
	}

	if src == requestcache.SourceCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if entry, ok := s.cache.Lookup(key); ok && entry.ETag != "" {
		w.Header().Set("ETag", entry.ETag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// producer fetches target from the upstream. The entry previously stored
// under key is looked up before the fetch starts, since reading an expired
// key drops it. When one exists, even an expired one, its validators make the
// request conditional and a 304 answer renews the old body.
func (s *server) producer(target cache.Key, key string) requestcache.MetaProducer[json.RawMessage] {
	previous, hasPrevious := s.cache.Lookup(key)

	return func(ctx context.Context) (json.RawMessage, requestcache.Meta, error) {
		var validators upstream.Validators
		if hasPrevious {
			validators = upstream.Validators{ETag: previous.ETag, LastModified: previous.LastModified}
		}

		resp, err := s.upstream.Get(ctx, target.Resource, target.Params, validators)
		if err != nil {
			return nil, requestcache.Meta{}, err
		}

		meta := requestcache.Meta{
			TTL:          resp.TTL(s.clock.Now()),
			ETag:         resp.ETag,
			LastModified: resp.LastModified,
		}
		if resp.NotModified && hasPrevious {
			s.logger.Debug().Str("key", key).Msg("Upstream copy unchanged, renewing entry")
			return previous.Value, meta, nil
		}
		return json.RawMessage(resp.Body), meta, nil
	}
}

// revalidate refreshes one registered key. It is the scheduler's RevalidateFunc.
func (s *server) revalidate(ctx context.Context, key string) error {
	target, ok := s.target(key)
	if !ok {
		return fmt.Errorf("no upstream target recorded for %q", key)
	}
	_, _, err := requestcache.FetchWithMeta(ctx, s.cache, key, s.producer(target, key), requestcache.WithForce())
	return err
}

func (s *server) writeFetchError(w http.ResponseWriter, key string, err error) {
	var fetchErr *upstream.FetchError
	switch {
	case errors.As(err, &fetchErr) && fetchErr.Class == upstream.ErrorClassClient && fetchErr.StatusCode > 0:
		http.Error(w, fetchErr.Error(), fetchErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		s.logger.Warn().Err(err).Str("key", key).Msg("Proxy request failed")
		http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
	}
}

type statsResponse struct {
	Hits             uint64    `json:"hits"`
	Misses           uint64    `json:"misses"`
	Size             int       `json:"size"`
	HitRate          float64   `json:"hit_rate"`
	LastCleanupAt    time.Time `json:"last_cleanup_at"`
	RevalidationKeys []string  `json:"revalidation_keys"`
	StaleLoading     []string  `json:"stale_loading"`
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Hits:             stats.Hits,
		Misses:           stats.Misses,
		Size:             stats.Size,
		HitRate:          stats.HitRate(),
		LastCleanupAt:    stats.LastCleanupAt,
		RevalidationKeys: orEmpty(s.cache.RevalidationKeys()),
		StaleLoading:     orEmpty(s.cache.StaleLoadingStates(s.staleAfter)),
	})
}

func (s *server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern != "" {
		if _, err := cache.CompilePattern(pattern); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	removed := s.cache.Invalidate(pattern)
	s.pruneTargets()
	s.reports.Clear()
	s.logger.Info().Str("pattern", pattern).Int("removed", removed).Msg("Cache invalidated")
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *server) revalidateHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		s.cache.DisableRevalidation(key)
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "enabled": false})
		return
	}

	if _, ok := s.target(key); !ok {
		http.Error(w, "key has not been requested through /api", http.StatusNotFound)
		return
	}
	s.cache.EnableRevalidation(key)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "enabled": true})
}

type loadingResponse struct {
	Key          string    `json:"key"`
	IsLoading    bool      `json:"is_loading"`
	IsRefetching bool      `json:"is_refetching"`
	IsMutating   bool      `json:"is_mutating"`
	Error        string    `json:"error,omitempty"`
	RetryCount   uint32    `json:"retry_count"`
	LastAttempt  time.Time `json:"last_attempt"`
	Stale        bool      `json:"stale"`
}

func (s *server) loadingHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	state := s.cache.LoadingState(key)
	writeJSON(w, http.StatusOK, loadingResponse{
		Key:          key,
		IsLoading:    state.IsLoading,
		IsRefetching: state.IsRefetching,
		IsMutating:   state.IsMutating,
		Error:        state.ErrorMessage(),
		RetryCount:   state.RetryCount,
		LastAttempt:  state.LastAttempt,
		Stale:        state.IsStale(s.clock.Now(), s.staleAfter),
	})
}

// cacheReport counts cached entries per resource.
type cacheReport struct {
	Entries   int            `json:"entries"`
	Resources map[string]int `json:"resources"`
}

// reportHandler serves a per-resource breakdown of the cache. Building it
// walks every key, so it runs on the idle scheduler and is reused briefly.
func (s *server) reportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.ComputeWhenIdle(r.Context(), "resources", reportTTL, func(context.Context) (cacheReport, error) {
		return buildReport(s.cache.Keys()), nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func buildReport(keys []string) cacheReport {
	report := cacheReport{Entries: len(keys), Resources: make(map[string]int)}
	for _, key := range keys {
		resource, _, _ := strings.Cut(key, ":")
		report.Resources[resource]++
	}
	return report
}

func (s *server) remember(key string, target cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[key]; ok {
		return
	}
	if len(s.targets) >= s.maxTargets {
		s.pruneTargetsLocked()
	}
	s.targets[key] = cache.Key{Resource: target.Resource, Params: cloneValues(target.Params)}
}

// pruneTargets drops targets whose key is neither cached nor registered for
// revalidation.
func (s *server) pruneTargets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneTargetsLocked()
}

func (s *server) pruneTargetsLocked() int {
	registry := s.cache.Registry()
	pruned := 0
	for key := range s.targets {
		if s.cache.IsCached(key) || registry.Contains(key) {
			continue
		}
		delete(s.targets, key)
		pruned++
	}
	if pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Int("remaining", len(s.targets)).Msg("Pruned request targets")
	}
	return pruned
}

// Cleanup sweeps the cache and then prunes targets of swept keys. It lets
// the server stand in as the scheduler's cleaner.
func (s *server) Cleanup() int {
	removed := s.cache.Cleanup()
	s.pruneTargets()
	return removed
}

func (s *server) target(key string) (cache.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[key]
	return t, ok
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for name, values := range v {
		out[name] = append([]string(nil), values...)
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
