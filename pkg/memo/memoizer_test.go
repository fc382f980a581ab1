package memo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestMemo(t *testing.T, capacity int) (*Memoizer[int], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m, err := New[int](capacity, WithClock(clock), WithName(t.Name()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, clock
}

func constant(v int, calls *int32) Factory[int] {
	return func(ctx context.Context) (int, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New[int](0); err == nil {
		t.Error("New(0) should fail")
	}
}

func TestComputeOrFetch_Memoizes(t *testing.T) {
	m, _ := newTestMemo(t, 4)
	ctx := context.Background()
	var calls int32

	for i := 0; i < 3; i++ {
		v, err := m.ComputeOrFetch(ctx, "k", time.Minute, constant(42, &calls))
		if err != nil || v != 42 {
			t.Fatalf("ComputeOrFetch() = %v, %v, want 42, nil", v, err)
		}
	}

	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestComputeOrFetch_TTL(t *testing.T) {
	tests := []struct {
		name      string
		ttl       time.Duration
		advance   time.Duration
		wantCalls int32
	}{
		{"within ttl", time.Minute, time.Minute, 1},
		{"past ttl", time.Minute, time.Minute + time.Millisecond, 2},
		{"zero ttl never expires", 0, 24 * time.Hour, 1},
		{"negative ttl never expires", -time.Second, 24 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestMemo(t, 4)
			ctx := context.Background()
			var calls int32

			m.ComputeOrFetch(ctx, "k", tt.ttl, constant(1, &calls))
			clock.Advance(tt.advance)
			m.ComputeOrFetch(ctx, "k", tt.ttl, constant(1, &calls))

			if calls != tt.wantCalls {
				t.Errorf("factory called %d times, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestComputeOrFetch_ErrorNotStored(t *testing.T) {
	m, _ := newTestMemo(t, 4)
	ctx := context.Background()
	failure := errors.New("compute failed")

	_, err := m.ComputeOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("ComputeOrFetch() error = %v, want %v", err, failure)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after failure, want 0", m.Len())
	}

	var calls int32
	v, err := m.ComputeOrFetch(ctx, "k", time.Minute, constant(5, &calls))
	if err != nil || v != 5 || calls != 1 {
		t.Errorf("retry after failure = %v, %v (calls %d), want 5, nil (1 call)", v, err, calls)
	}
}

func TestComputeOrFetch_NilInterfaceResult(t *testing.T) {
	m, err := New[any](4, WithClock(clockwork.NewFakeClock()), WithName(t.Name()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	var calls int32
	factory := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		v, err := m.ComputeOrFetch(ctx, "k", time.Minute, factory)
		if err != nil || v != nil {
			t.Errorf("ComputeOrFetch() = %v, %v, want nil, nil", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestComputeOrFetch_LRUEviction(t *testing.T) {
	m, _ := newTestMemo(t, 2)
	ctx := context.Background()
	var calls int32

	m.ComputeOrFetch(ctx, "a", 0, constant(1, &calls))
	m.ComputeOrFetch(ctx, "b", 0, constant(2, &calls))
	m.ComputeOrFetch(ctx, "a", 0, constant(1, &calls)) // refresh a
	m.ComputeOrFetch(ctx, "c", 0, constant(3, &calls)) // evicts b

	calls = 0
	m.ComputeOrFetch(ctx, "a", 0, constant(1, &calls))
	if calls != 0 {
		t.Error("a should have survived as most recently used")
	}
	m.ComputeOrFetch(ctx, "b", 0, constant(2, &calls))
	if calls != 1 {
		t.Error("b should have been evicted")
	}
}

func TestComputeOrFetch_ConcurrentMissesShareFactory(t *testing.T) {
	m, _ := newTestMemo(t, 4)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	factory := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 9, nil
	}

	var wg sync.WaitGroup
	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.ComputeOrFetch(ctx, "shared", time.Minute, factory)
			if err != nil {
				t.Errorf("ComputeOrFetch() error = %v", err)
			}
			results <- v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 9 {
			t.Errorf("result = %d, want 9", v)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory called %d times, want 1", got)
	}
}

func TestComputeOrFetch_CallerCancel(t *testing.T) {
	m, _ := newTestMemo(t, 4)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.ComputeOrFetch(ctx, "slow", time.Minute, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ComputeOrFetch() error = %v, want deadline exceeded", err)
	}
}

func TestForgetAndClear(t *testing.T) {
	m, _ := newTestMemo(t, 4)
	ctx := context.Background()
	var calls int32

	m.ComputeOrFetch(ctx, "a", 0, constant(1, &calls))
	m.ComputeOrFetch(ctx, "b", 0, constant(2, &calls))

	m.Forget("a")
	if m.Len() != 1 {
		t.Errorf("Len() after Forget = %d, want 1", m.Len())
	}

	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
}

func TestComputeWhenIdle(t *testing.T) {
	queue := NewIdleQueue(8)
	defer queue.Close()

	m, err := New[string](4, WithScheduler(queue))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	v, err := m.ComputeWhenIdle(ctx, "report", time.Minute, func(context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Fatalf("ComputeWhenIdle() = %q, %v, want done, nil", v, err)
	}

	// second call is a hit and does not run the factory
	v, err = m.ComputeWhenIdle(ctx, "report", time.Minute, func(context.Context) (string, error) {
		t.Error("factory should not run on a hit")
		return "", nil
	})
	if err != nil || v != "done" {
		t.Errorf("ComputeWhenIdle() hit = %q, %v", v, err)
	}
}

func TestComputeWhenIdle_CallerCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	m, _ := New[int](4, WithScheduler(Deferred()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ComputeWhenIdle(ctx, "k", 0, func(context.Context) (int, error) {
		<-block
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ComputeWhenIdle() error = %v, want context.Canceled", err)
	}
}
