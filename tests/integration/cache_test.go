//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/query-cache/internal/testutil"
	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/persist"
	"github.com/Sternrassler/query-cache/pkg/requestcache"
	"github.com/Sternrassler/query-cache/pkg/revalidate"
	"github.com/Sternrassler/query-cache/pkg/upstream"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newUpstream(t *testing.T, mock *testutil.MockUpstream) *upstream.Client {
	t.Helper()
	client, err := upstream.New(upstream.Config{
		BaseURL:   mock.URL(),
		UserAgent: "query-cache-integration/1.0",
	})
	if err != nil {
		t.Fatalf("upstream.New() error = %v", err)
	}
	return client
}

// fetchBody adapts an upstream request into a cache producer.
func fetchBody(client *upstream.Client, resource string) requestcache.MetaProducer[json.RawMessage] {
	return func(ctx context.Context) (json.RawMessage, requestcache.Meta, error) {
		resp, err := client.Get(ctx, resource, nil, upstream.Validators{})
		if err != nil {
			return nil, requestcache.Meta{}, err
		}
		return resp.Body, requestcache.Meta{
			TTL:  resp.TTL(time.Now()),
			ETag: resp.ETag,
		}, nil
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	for _, codec := range []persist.Codec{persist.JSON(), persist.Msgpack()} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			key := "integration:snapshot:" + codec.Name()
			p := persist.New[json.RawMessage](persist.NewRedisBackend(redisClient, key, time.Hour), codec)

			src, err := requestcache.New(requestcache.Config{Name: "it-src-" + codec.Name(), Persister: p})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			for i, k := range []string{"users/1", "users/2", "posts/1"} {
				if err := requestcache.Set(src, k, map[string]int{"n": i}); err != nil {
					t.Fatalf("Set(%s) error = %v", k, err)
				}
			}
			requestcache.Get[map[string]int](src, "users/1")

			if err := src.Suspend(ctx); err != nil {
				t.Fatalf("Suspend() error = %v", err)
			}

			ttl, err := redisClient.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				t.Errorf("snapshot key TTL = %v (err %v), want the configured expiry", ttl, err)
			}

			dst, err := requestcache.New(requestcache.Config{Name: "it-dst-" + codec.Name(), Persister: p})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if !dst.Resume(ctx) {
				t.Fatal("Resume() = false, want true")
			}

			if dst.Len() != 3 {
				t.Errorf("Len() = %d, want 3", dst.Len())
			}
			got, ok := requestcache.Get[map[string]int](dst, "posts/1")
			if !ok || got["n"] != 2 {
				t.Errorf("Get(posts/1) = %v, %v", got, ok)
			}
			if hits := dst.Stats().Hits; hits != 2 {
				t.Errorf("Hits = %d, want 2 (one restored, one new)", hits)
			}
		})
	}
}

func TestCorruptSnapshotStartsCold(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	if err := redisClient.Set(ctx, persist.DefaultRedisKey, "garbage", 0).Err(); err != nil {
		t.Fatalf("seed corrupt snapshot: %v", err)
	}

	p := persist.New[json.RawMessage](persist.NewRedisBackend(redisClient, persist.DefaultRedisKey, 0), persist.JSON())
	c, err := requestcache.New(requestcache.Config{Name: "it-corrupt", Persister: p})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.Resume(ctx) {
		t.Error("Resume() = true for a corrupt snapshot")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestRetry5xxErrors(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetSequence("/flaky",
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewOKResponse(`{"ok": true}`),
	)

	c, err := requestcache.New(requestcache.Config{
		Name:  "it-retry",
		Retry: requestcache.RetryPolicy{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, BackoffMultiplier: 2},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body, _, err := requestcache.FetchWithMeta(context.Background(), c, "flaky", fetchBody(newUpstream(t, mock), "flaky"))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if n := mock.PathCount("/flaky"); n != 3 {
		t.Errorf("upstream requests = %d, want 3", n)
	}
	if rc := c.LoadingState("flaky").RetryCount; rc != 2 {
		t.Errorf("RetryCount = %d, want 2", rc)
	}
	if entry, ok := c.Lookup("flaky"); !ok || entry.ETag != `"test-etag-123"` {
		t.Errorf("stored entry = %+v, %v", entry, ok)
	}
}

func TestNoRetry4xxErrors(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/missing", testutil.NewNotFoundResponse())

	c, err := requestcache.New(requestcache.Config{Name: "it-noretry", Retry: requestcache.DefaultRetryPolicy()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, err = requestcache.FetchWithMeta(context.Background(), c, "missing", fetchBody(newUpstream(t, mock), "missing"))

	var fetchErr *upstream.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch() error = %v, want a 404 FetchError", err)
	}
	if n := mock.PathCount("/missing"); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}
}

func TestSchedulerRevalidatesRegisteredKeys(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	client := newUpstream(t, mock)

	c, err := requestcache.New(requestcache.Config{Name: "it-scheduler"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := cache.NewKey("status").String()
	if _, _, err := requestcache.FetchWithMeta(ctx, c, key, fetchBody(client, "status")); err != nil {
		t.Fatalf("initial Fetch() error = %v", err)
	}
	c.EnableRevalidation(key)

	scheduler := revalidate.NewScheduler(c, c.Registry(), func(ctx context.Context, key string) error {
		_, _, err := requestcache.FetchWithMeta(ctx, c, key, fetchBody(client, "status"), requestcache.WithForce())
		return err
	}, revalidate.Config{RevalidateInterval: 50 * time.Millisecond})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for mock.PathCount("/status") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("upstream requests = %d after 5s, want >= 3", mock.PathCount("/status"))
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !c.IsCached(key) {
		t.Error("revalidated key should stay cached")
	}
}
