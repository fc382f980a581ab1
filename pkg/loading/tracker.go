package loading

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tracker holds a State per key. It is pure bookkeeping: nothing here starts,
// cancels or times out work, and stale states are reported but never cleared.
type Tracker struct {
	clock clockwork.Clock

	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates an empty tracker. A nil clock means the real clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		clock:  clock,
		states: make(map[string]State),
	}
}

// Set merges patches onto the key's current state (or the default state) and
// stores the result. LastAttempt is set to now only when one of the patches
// turns an in-flight flag on, which marks a new attempt. Patches that only
// record an error or a retry keep the previous LastAttempt.
func (t *Tracker) Set(key string, patches ...Patch) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[key]
	started := false
	for _, patch := range patches {
		patch(&state)
		if startsAttempt(patch) {
			started = true
		}
	}
	if started {
		state.LastAttempt = t.clock.Now()
	}
	t.states[key] = state
	return state
}

// startsAttempt reports whether patch sets an in-flight flag, judged by
// applying it to the default state.
func startsAttempt(patch Patch) bool {
	var s State
	patch(&s)
	return s.InFlight()
}

// Get returns the key's state, or the default state if none is recorded.
func (t *Tracker) Get(key string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key]
}

// Clear forgets the key's state.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Len is the number of keys with a recorded state.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Stale returns, sorted, the keys whose state has been in flight for longer
// than maxAge.
func (t *Tracker) Stale(maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var keys []string
	for key, state := range t.states {
		if state.IsStale(now, maxAge) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
