// Package config loads the query cache service configuration from the
// environment, applying defaults for everything that is not set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/persist"
)

// Config is the complete service configuration.
type Config struct {
	// Cache
	DefaultTTL      time.Duration // CACHE_DEFAULT_TTL
	MaxSize         int           // CACHE_MAX_SIZE
	CleanupInterval time.Duration // CACHE_CLEANUP_INTERVAL_MS (milliseconds)

	// Background revalidation
	RevalidateInterval    time.Duration // CACHE_REVALIDATE_INTERVAL
	RevalidateConcurrency int           // CACHE_REVALIDATE_CONCURRENCY

	// Memoization table size
	MemoCapacity int // CACHE_MEMO_CAPACITY

	// In-flight states older than this are reported as stale
	StaleLoadingAfter time.Duration // CACHE_STALE_LOADING_AFTER

	// Persistence. With RedisAddr set snapshots go to Redis under
	// SnapshotKey, otherwise to SnapshotFile when that is set.
	RedisAddr     string // REDIS_URL
	SnapshotKey   string // SNAPSHOT_KEY
	SnapshotCodec string // SNAPSHOT_CODEC (json|msgpack)
	SnapshotFile  string // SNAPSHOT_FILE

	// Upstream API
	UpstreamURL     string        // UPSTREAM_URL (REQUIRED)
	UserAgent       string        // USER_AGENT
	UpstreamTimeout time.Duration // UPSTREAM_TIMEOUT

	// HTTP server
	ListenAddr string // PORT, served on all interfaces

	// Logging
	LogLevel  string // LOG_LEVEL
	LogPretty bool   // LOG_PRETTY
}

// Default returns the configuration used when the environment is empty.
func Default() Config {
	return Config{
		DefaultTTL:            5 * time.Minute,
		MaxSize:               100,
		CleanupInterval:       600000 * time.Millisecond,
		RevalidateInterval:    30 * time.Second,
		RevalidateConcurrency: 4,
		MemoCapacity:          256,
		StaleLoadingAfter:     2 * time.Minute,
		SnapshotKey:           persist.DefaultRedisKey,
		SnapshotCodec:         persist.CodecJSON,
		UserAgent:             "query-cache/0.1.0",
		UpstreamTimeout:       30 * time.Second,
		ListenAddr:            ":8080",
		LogLevel:              string(logging.LevelInfo),
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	env := envReader{getenv: getenv}

	cfg.DefaultTTL = env.getDuration("CACHE_DEFAULT_TTL", cfg.DefaultTTL)
	cfg.MaxSize = env.getInt("CACHE_MAX_SIZE", cfg.MaxSize)
	cfg.CleanupInterval = time.Duration(env.getInt("CACHE_CLEANUP_INTERVAL_MS", int(cfg.CleanupInterval/time.Millisecond))) * time.Millisecond
	cfg.RevalidateInterval = env.getDuration("CACHE_REVALIDATE_INTERVAL", cfg.RevalidateInterval)
	cfg.RevalidateConcurrency = env.getInt("CACHE_REVALIDATE_CONCURRENCY", cfg.RevalidateConcurrency)
	cfg.MemoCapacity = env.getInt("CACHE_MEMO_CAPACITY", cfg.MemoCapacity)
	cfg.StaleLoadingAfter = env.getDuration("CACHE_STALE_LOADING_AFTER", cfg.StaleLoadingAfter)

	cfg.RedisAddr = env.getString("REDIS_URL", cfg.RedisAddr)
	cfg.SnapshotKey = env.getString("SNAPSHOT_KEY", cfg.SnapshotKey)
	cfg.SnapshotCodec = env.getString("SNAPSHOT_CODEC", cfg.SnapshotCodec)
	cfg.SnapshotFile = env.getString("SNAPSHOT_FILE", cfg.SnapshotFile)

	cfg.UpstreamURL = env.getString("UPSTREAM_URL", cfg.UpstreamURL)
	cfg.UserAgent = env.getString("USER_AGENT", cfg.UserAgent)
	cfg.UpstreamTimeout = env.getDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)

	if port := env.getString("PORT", ""); port != "" {
		cfg.ListenAddr = ":" + port
	}

	cfg.LogLevel = env.getString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = env.getBool("LOG_PRETTY", cfg.LogPretty)

	if len(env.errs) > 0 {
		return cfg, errors.Join(env.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %v)", name, d))
		}
	}
	positive("default ttl", c.DefaultTTL)
	positive("cleanup interval", c.CleanupInterval)
	positive("revalidate interval", c.RevalidateInterval)
	positive("stale loading threshold", c.StaleLoadingAfter)
	positive("upstream timeout", c.UpstreamTimeout)

	atLeastOne := func(name string, n int) {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1 (got %d)", name, n))
		}
	}
	atLeastOne("max size", c.MaxSize)
	atLeastOne("revalidate concurrency", c.RevalidateConcurrency)
	atLeastOne("memo capacity", c.MemoCapacity)

	if _, err := persist.CodecByName(c.SnapshotCodec); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.UpstreamURL == "" {
		errs = append(errs, errors.New("upstream url is required"))
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user-agent is required"))
	}

	return errors.Join(errs...)
}

// PersistenceEnabled reports whether a snapshot backend is configured.
func (c Config) PersistenceEnabled() bool {
	return c.RedisAddr != "" || c.SnapshotFile != ""
}

// envReader collects parse errors so Load can report them together.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) getString(key, defaultValue string) string {
	if value := r.getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := r.getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := r.getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := r.getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}
