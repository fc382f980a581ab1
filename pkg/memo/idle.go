package memo

import (
	"runtime"
	"sync"
)

// Scheduler runs non-urgent tasks at some later point. Schedule never runs
// the task inline on the caller's goroutine.
type Scheduler interface {
	Schedule(task func())
}

type deferred struct{}

// Deferred returns a Scheduler that starts every task on its own goroutine
// with no delay. It is the fallback when no idle capability exists.
func Deferred() Scheduler {
	return deferred{}
}

func (deferred) Schedule(task func()) {
	go task()
}

// IdleQueue runs tasks one at a time on a single low-priority worker that
// yields the processor before each task. When the queue is full or closed,
// tasks fall back to Deferred.
type IdleQueue struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewIdleQueue starts a queue holding up to size pending tasks.
func NewIdleQueue(size int) *IdleQueue {
	if size <= 0 {
		size = 1
	}
	q := &IdleQueue{tasks: make(chan func(), size)}

	q.wg.Add(1)
	go q.run()
	return q
}

// Schedule queues task, or hands it to Deferred if the queue cannot take it.
func (q *IdleQueue) Schedule(task func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		idleFallbacks.Inc()
		Deferred().Schedule(task)
		return
	}

	select {
	case q.tasks <- task:
	default:
		idleFallbacks.Inc()
		Deferred().Schedule(task)
	}
}

// Close stops accepting tasks, drains the ones already queued and waits for
// the worker to exit. Safe to call more than once.
func (q *IdleQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *IdleQueue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		runtime.Gosched()
		task()
	}
}
