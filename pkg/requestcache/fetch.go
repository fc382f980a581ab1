package requestcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/loading"
)

// Producer computes the value for a key, typically by calling an upstream API.
type Producer[T any] func(ctx context.Context) (T, error)

// MetaProducer is a Producer that also reports how the value may be cached.
type MetaProducer[T any] func(ctx context.Context) (T, Meta, error)

// Meta carries per-value cache metadata from a producer. Zero fields fall
// back to the Fetch options.
type Meta struct {
	TTL          time.Duration
	ETag         string
	LastModified time.Time
}

// Source tells where a fetched value came from.
type Source string

const (
	// SourceCache means the value was live in the cache.
	SourceCache Source = "cache"

	// SourceProducer means a producer ran for this call or for a concurrent
	// call the caller joined.
	SourceProducer Source = "producer"
)

// FetchOption customizes a single Fetch call.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	ttl   time.Duration
	force bool
	etag  string
	retry *RetryPolicy
}

// WithTTL sets the TTL of the stored value.
func WithTTL(ttl time.Duration) FetchOption {
	return func(o *fetchOptions) { o.ttl = ttl }
}

// WithForce skips the cache lookup and always runs the producer. When a live
// value exists the key is marked as refetching rather than loading.
func WithForce() FetchOption {
	return func(o *fetchOptions) { o.force = true }
}

// WithRetry overrides the cache's retry policy for this call.
func WithRetry(policy RetryPolicy) FetchOption {
	return func(o *fetchOptions) { o.retry = &policy }
}

// WithETag stores etag alongside the produced value.
func WithETag(etag string) FetchOption {
	return func(o *fetchOptions) { o.etag = etag }
}

// Fetch returns the live value under key or produces, stores and returns a
// new one. Concurrent calls for the same key share a single production; the
// producer runs with the ctx of the caller that started it.
//
// The key's loading state follows the production: it is marked loading (or
// refetching) while the producer runs, and idle afterwards with the error of
// a failed production recorded. A failed production is returned and nothing
// is cached.
func Fetch[T any](ctx context.Context, c *Cache, key string, producer Producer[T], opts ...FetchOption) (T, error) {
	v, _, err := FetchWithMeta(ctx, c, key, func(ctx context.Context) (T, Meta, error) {
		v, err := producer(ctx)
		return v, Meta{}, err
	}, opts...)
	return v, err
}

// FetchWithMeta is Fetch for producers that report cache metadata. It also
// returns where the value came from.
func FetchWithMeta[T any](ctx context.Context, c *Cache, key string, producer MetaProducer[T], opts ...FetchOption) (T, Source, error) {
	var zero T

	o := fetchOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.force {
		if v, ok := Get[T](c, key); ok {
			fetchesTotal.WithLabelValues(c.name, outcomeHit).Inc()
			return v, SourceCache, nil
		}
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		// a flight that ended after our lookup may have stored the value
		if !o.force {
			if entry, ok := c.store.Lookup(key); ok && entry.IsLive(c.clock.Now()) {
				return entry.Value, nil
			}
		}
		return c.produce(ctx, key, o, func(ctx context.Context) (json.RawMessage, Meta, error) {
			v, meta, err := producer(ctx)
			if err != nil {
				return nil, meta, err
			}
			data, err := json.Marshal(v)
			if err != nil {
				return nil, meta, fmt.Errorf("encode value for %q: %w", key, err)
			}
			return data, meta, nil
		})
	})

	select {
	case res := <-ch:
		if res.Shared {
			sharedFetches.WithLabelValues(c.name).Inc()
		}
		if res.Err != nil {
			fetchesTotal.WithLabelValues(c.name, outcomeError).Inc()
			return zero, SourceProducer, res.Err
		}

		var v T
		if err := json.Unmarshal(res.Val.(json.RawMessage), &v); err != nil {
			fetchesTotal.WithLabelValues(c.name, outcomeError).Inc()
			return zero, SourceProducer, fmt.Errorf("decode value for %q: %w", key, err)
		}
		fetchesTotal.WithLabelValues(c.name, outcomeFetched).Inc()
		return v, SourceProducer, nil

	case <-ctx.Done():
		return zero, SourceProducer, ctx.Err()
	}
}

// produce runs one production for key under its loading state and stores the
// result on success.
func (c *Cache) produce(ctx context.Context, key string, o fetchOptions, fn func(context.Context) (json.RawMessage, Meta, error)) (json.RawMessage, error) {
	if o.force && c.store.IsCached(key) {
		c.loading.Set(key, loading.Refetching(true), loading.Retries(0))
	} else {
		c.loading.Set(key, loading.Loading(true), loading.Retries(0))
	}

	policy := c.retry
	if o.retry != nil {
		policy = *o.retry
	}

	startTime := c.clock.Now()
	var (
		data json.RawMessage
		meta Meta
	)
	err := c.retryWithBackoff(ctx, key, policy, func(ctx context.Context) error {
		var err error
		data, meta, err = fn(ctx)
		return err
	}, func(int, error) {
		c.loading.Set(key, loading.IncrementRetry())
	})
	fetchDuration.WithLabelValues(c.name).Observe(c.clock.Since(startTime).Seconds())

	if err != nil {
		c.loading.Set(key, loading.Loading(false), loading.Refetching(false), loading.Failed(err))
		c.logger.Warn().Err(err).Str("key", key).Msg("Fetch failed")
		return nil, err
	}

	setOpts := []cache.SetOption{cache.WithTTL(o.ttl)}
	if meta.TTL > 0 {
		setOpts = append(setOpts, cache.WithTTL(meta.TTL))
	}
	etag := o.etag
	if meta.ETag != "" {
		etag = meta.ETag
	}
	if etag != "" {
		setOpts = append(setOpts, cache.WithETag(etag))
	}
	if !meta.LastModified.IsZero() {
		setOpts = append(setOpts, cache.WithLastModified(meta.LastModified))
	}

	c.store.Set(key, data, setOpts...)
	c.loading.Set(key, loading.Loading(false), loading.Refetching(false), loading.ClearError())

	c.logger.Debug().
		Str("key", key).
		Str("etag", etag).
		Msg("Fetch stored value")
	return data, nil
}
