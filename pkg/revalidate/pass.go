package revalidate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RevalidateFunc refreshes a single key. It is called from worker goroutines.
type RevalidateFunc func(ctx context.Context, key string) error

// KeyResult is the outcome of revalidating one key.
type KeyResult struct {
	Key   string
	Error error
}

// PassResult summarizes one revalidation pass.
type PassResult struct {
	Total     int
	Succeeded int
	Failed    []KeyResult
	Duration  time.Duration
}

// runPass revalidates keys in parallel with at most concurrency workers and
// a per-key timeout. A failing key does not stop the others. The pass is
// timed with clock.
func runPass(ctx context.Context, clock clockwork.Clock, keys []string, fn RevalidateFunc, concurrency int, timeout time.Duration, logger zerolog.Logger) PassResult {
	start := clock.Now()
	result := PassResult{Total: len(keys)}
	if len(keys) == 0 {
		return result
	}

	workers := concurrency
	if workers > len(keys) {
		workers = len(keys)
	}

	keyQueue := make(chan string, len(keys))
	for _, key := range keys {
		keyQueue <- key
	}
	close(keyQueue)

	results := make(chan KeyResult, len(keys))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, fn, timeout, keyQueue, results, &wg, i, logger)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.Error != nil {
			revalidationsTotal.WithLabelValues("error").Inc()
			logger.Warn().
				Err(r.Error).
				Str("key", r.Key).
				Msg("Revalidation failed")
			result.Failed = append(result.Failed, r)
			continue
		}
		revalidationsTotal.WithLabelValues("success").Inc()
		result.Succeeded++
	}

	result.Duration = clock.Since(start)
	revalidationPassDuration.Observe(result.Duration.Seconds())
	scheduledKeys.Set(float64(len(keys)))

	logger.Debug().
		Int("keys", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("Revalidation pass complete")

	return result
}

// worker processes keys from the queue
func worker(ctx context.Context, fn RevalidateFunc, timeout time.Duration, keyQueue <-chan string, results chan<- KeyResult, wg *sync.WaitGroup, workerID int, logger zerolog.Logger) {
	defer wg.Done()
	processed := 0

	for key := range keyQueue {
		select {
		case <-ctx.Done():
			logger.Debug().
				Int("worker_id", workerID).
				Int("keys_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		keyCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(keyCtx, key)
		cancel()

		results <- KeyResult{Key: key, Error: err}
		processed++
	}
}
