// Command cache-proxy fronts an upstream JSON API with the request cache.
// Responses are cached by resource and query, revalidated conditionally once
// they expire, and saved to Redis or a file on shutdown so a restart resumes
// with a warm cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/query-cache/pkg/config"
	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/memo"
	"github.com/Sternrassler/query-cache/pkg/persist"
	"github.com/Sternrassler/query-cache/pkg/requestcache"
	"github.com/Sternrassler/query-cache/pkg/revalidate"
	"github.com/Sternrassler/query-cache/pkg/upstream"
)

// shutdownTimeout bounds the snapshot save and server drain on exit
const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		logging.NewLogger("main").Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
			return err
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	persister, err := newPersister(cfg, redisClient)
	if err != nil {
		return err
	}

	reqCache, err := requestcache.New(requestcache.Config{
		Name:         "proxy",
		DefaultTTL:   cfg.DefaultTTL,
		MaxSize:      cfg.MaxSize,
		MemoCapacity: cfg.MemoCapacity,
		Persister:    persister,
		Retry:        requestcache.DefaultRetryPolicy(),
		Logger:       logging.NewLogger("requestcache"),
	})
	if err != nil {
		return err
	}
	if reqCache.Resume(ctx) {
		logger.Info().Int("entries", reqCache.Len()).Msg("Resumed with warm cache")
	}

	upstreamClient, err := upstream.New(upstream.Config{
		BaseURL:    cfg.UpstreamURL,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.UpstreamTimeout,
		DefaultTTL: cfg.DefaultTTL,
		Logger:     logging.NewLogger("upstream"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create upstream client")
		return err
	}

	idle := memo.NewIdleQueue(16)
	defer idle.Close()
	reports, err := memo.New[cacheReport](4, memo.WithName("reports"), memo.WithScheduler(idle))
	if err != nil {
		return err
	}

	deps := serverDeps{
		Cache:      reqCache,
		Upstream:   upstreamClient,
		Reports:    reports,
		StaleAfter: cfg.StaleLoadingAfter,
		Logger:     logging.NewLogger("proxy"),
		MaxTargets: 2 * cfg.MaxSize,
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	srv := newServer(deps)

	scheduler := revalidate.NewScheduler(srv, reqCache.Registry(), srv.revalidate, revalidate.Config{
		CleanupInterval:    cfg.CleanupInterval,
		RevalidateInterval: cfg.RevalidateInterval,
		MaxConcurrency:     cfg.RevalidateConcurrency,
		Timeout:            cfg.UpstreamTimeout,
		Logger:             logging.NewLogger("scheduler"),
	})
	scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("upstream", cfg.UpstreamURL).
			Str("user_agent", cfg.UserAgent).
			Bool("persistence", persister != nil).
			Msg("Starting cache proxy")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		scheduler.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := reqCache.Suspend(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to save cache snapshot")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// newPersister picks the snapshot backend: Redis when configured, else a
// file, else none.
func newPersister(cfg config.Config, redisClient *redis.Client) (requestcache.SnapshotStore, error) {
	codec, err := persist.CodecByName(cfg.SnapshotCodec)
	if err != nil {
		return nil, err
	}

	switch {
	case redisClient != nil:
		return persist.New[json.RawMessage](persist.NewRedisBackend(redisClient, cfg.SnapshotKey, 0), codec), nil
	case cfg.SnapshotFile != "":
		return persist.New[json.RawMessage](persist.NewFileBackend(cfg.SnapshotFile), codec), nil
	default:
		return nil, nil
	}
}
