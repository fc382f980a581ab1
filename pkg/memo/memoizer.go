// Package memo memoizes expensive computations by key in a capacity-bounded
// LRU table, with optional per-entry TTL and deferral to an idle scheduler.
package memo

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/query-cache/pkg/lru"
)

// DefaultCapacity is the table size used by the service when none is configured
const DefaultCapacity = 256

// Factory produces the value for a key.
type Factory[V any] func(ctx context.Context) (V, error)

type memoEntry[V any] struct {
	value     V
	writtenAt time.Time
	ttl       time.Duration
}

func (e memoEntry[V]) live(now time.Time) bool {
	return e.ttl <= 0 || now.Sub(e.writtenAt) <= e.ttl
}

// Memoizer caches factory results by key. Concurrent misses for the same key
// share one factory call. Errors are returned to every waiting caller and are
// never stored.
type Memoizer[V any] struct {
	name      string
	entries   *lru.Cache[string, memoEntry[V]]
	clock     clockwork.Clock
	scheduler Scheduler
	group     singleflight.Group
}

// Option configures a Memoizer.
type Option func(*options)

type options struct {
	name      string
	clock     clockwork.Clock
	scheduler Scheduler
}

// WithName labels the memoizer's metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock sets the time source for TTL checks.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithScheduler sets where ComputeWhenIdle runs factories (default: Deferred).
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// New creates a memoizer holding at most capacity results.
func New[V any](capacity int, opts ...Option) (*Memoizer[V], error) {
	o := options{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.scheduler == nil {
		o.scheduler = Deferred()
	}

	entries, err := lru.New[string, memoEntry[V]](capacity)
	if err != nil {
		return nil, fmt.Errorf("create memo table: %w", err)
	}

	return &Memoizer[V]{
		name:      o.name,
		entries:   entries,
		clock:     o.clock,
		scheduler: o.scheduler,
	}, nil
}

// ComputeOrFetch returns the memoized value for key if it is live, and
// otherwise runs factory, stores its result and returns it. A ttl <= 0 means
// the result never expires and leaves the table only through LRU eviction.
//
// While callers share a factory call, each of them stops waiting when its own
// ctx is done; the factory runs with the ctx of the caller that started it.
func (m *Memoizer[V]) ComputeOrFetch(ctx context.Context, key string, ttl time.Duration, factory Factory[V]) (V, error) {
	if v, ok := m.lookup(key); ok {
		memoHits.WithLabelValues(m.name).Inc()
		return v, nil
	}
	memoMisses.WithLabelValues(m.name).Inc()

	ch := m.group.DoChan(key, func() (any, error) {
		// another flight may have stored the value since our lookup
		if v, ok := m.lookup(key); ok {
			return v, nil
		}

		v, err := factory(ctx)
		if err != nil {
			return v, err
		}
		m.entries.Set(key, memoEntry[V]{value: v, writtenAt: m.clock.Now(), ttl: ttl})
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		// a nil interface result does not assert to V
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ComputeWhenIdle is ComputeOrFetch with the factory deferred to the
// memoizer's scheduler. A live value is returned at once. Otherwise it waits
// for the deferred computation or for ctx to be done.
func (m *Memoizer[V]) ComputeWhenIdle(ctx context.Context, key string, ttl time.Duration, factory Factory[V]) (V, error) {
	if v, ok := m.lookup(key); ok {
		memoHits.WithLabelValues(m.name).Inc()
		return v, nil
	}

	type outcome struct {
		value V
		err   error
	}
	result := make(chan outcome, 1)

	m.scheduler.Schedule(func() {
		v, err := m.ComputeOrFetch(ctx, key, ttl, factory)
		result <- outcome{value: v, err: err}
	})

	select {
	case out := <-result:
		return out.value, out.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Forget drops key from the table.
func (m *Memoizer[V]) Forget(key string) {
	m.entries.Remove(key)
}

// Clear drops every memoized value.
func (m *Memoizer[V]) Clear() {
	m.entries.Clear()
}

// Len is the number of memoized values, expired ones included.
func (m *Memoizer[V]) Len() int {
	return m.entries.Len()
}

// lookup returns a live value and refreshes its recency. An expired value is
// removed.
func (m *Memoizer[V]) lookup(key string) (V, bool) {
	var zero V

	e, ok := m.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !e.live(m.clock.Now()) {
		m.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}
