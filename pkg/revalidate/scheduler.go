package revalidate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupInterval is how often expired entries are swept
	DefaultCleanupInterval = 10 * time.Minute

	// DefaultRevalidateInterval is how often registered keys are refreshed
	DefaultRevalidateInterval = 30 * time.Second

	// DefaultMaxConcurrency bounds parallel revalidations
	DefaultMaxConcurrency = 4

	// DefaultTimeout bounds a single key's revalidation
	DefaultTimeout = 15 * time.Second
)

// Cleaner purges expired entries and reports how many were removed.
type Cleaner interface {
	Cleanup() int
}

// Lister returns the keys due for revalidation.
type Lister interface {
	List() []string
}

// Config holds scheduler configuration
type Config struct {
	CleanupInterval    time.Duration
	RevalidateInterval time.Duration

	// MaxConcurrency is the worker pool size of a revalidation pass
	MaxConcurrency int

	// Timeout per key
	Timeout time.Duration

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// DefaultConfig returns the default intervals and pool size.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:    DefaultCleanupInterval,
		RevalidateInterval: DefaultRevalidateInterval,
		MaxConcurrency:     DefaultMaxConcurrency,
		Timeout:            DefaultTimeout,
	}
}

// Scheduler runs periodic cleanup on a Cleaner and, when a Lister and a
// RevalidateFunc are given, periodic revalidation passes over the listed keys.
type Scheduler struct {
	cleaner    Cleaner
	keys       Lister
	revalidate RevalidateFunc
	config     Config
	clock      clockwork.Clock
	logger     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	passing sync.Mutex
}

// NewScheduler creates a stopped scheduler. keys and fn may be nil, in which
// case only cleanup runs.
func NewScheduler(cleaner Cleaner, keys Lister, fn RevalidateFunc, cfg Config) *Scheduler {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.RevalidateInterval <= 0 {
		cfg.RevalidateInterval = DefaultRevalidateInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		cleaner:    cleaner,
		keys:       keys,
		revalidate: fn,
		config:     cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the background loops. Calling Start on a running scheduler
// is a no-op. The loops end when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx, s.config.CleanupInterval, s.cleanupTick)

	if s.keys != nil && s.revalidate != nil {
		s.wg.Add(1)
		go s.loop(ctx, s.config.RevalidateInterval, func(ctx context.Context) {
			s.RevalidateNow(ctx)
		})
	}

	s.logger.Info().
		Dur("cleanup_interval", s.config.CleanupInterval).
		Dur("revalidate_interval", s.config.RevalidateInterval).
		Int("max_concurrency", s.config.MaxConcurrency).
		Msg("Scheduler started")
}

// Stop cancels the loops and waits for them, including an in-progress
// revalidation pass, to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// RevalidateNow runs one revalidation pass synchronously. Passes never
// overlap: a call made while another pass runs waits for it first.
func (s *Scheduler) RevalidateNow(ctx context.Context) PassResult {
	if s.keys == nil || s.revalidate == nil {
		return PassResult{}
	}

	s.passing.Lock()
	defer s.passing.Unlock()

	return runPass(ctx, s.clock, s.keys.List(), s.revalidate, s.config.MaxConcurrency, s.config.Timeout, s.logger)
}

func (s *Scheduler) cleanupTick(context.Context) {
	removed := s.cleaner.Cleanup()
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Cleanup sweep")
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tick(ctx)
		}
	}
}
