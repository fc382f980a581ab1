// Package loading tracks per-key in-flight request state: whether a key is
// loading, refetching or mutating, its last error and how often it was retried.
package loading

import (
	"time"
)

// State is the in-flight status of one cache key.
// The zero value is the default state: idle, no error, no retries.
type State struct {
	IsLoading    bool `json:"is_loading"`
	IsRefetching bool `json:"is_refetching"`
	IsMutating   bool `json:"is_mutating"`

	// Error is the last failure recorded for the key
	Error error `json:"-"`

	RetryCount uint32 `json:"retry_count"`

	// LastAttempt is stamped whenever a write leaves any in-flight flag set.
	// Zero until the first such write.
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// InFlight reports whether any of the loading flags is set.
func (s State) InFlight() bool {
	return s.IsLoading || s.IsRefetching || s.IsMutating
}

// IsStale reports whether the state is in flight and its last attempt is
// older than maxAge at now. Such a state usually belongs to a request whose
// caller never reported completion.
func (s State) IsStale(now time.Time, maxAge time.Duration) bool {
	return s.InFlight() && now.Sub(s.LastAttempt) > maxAge
}

// ErrorMessage returns the error text, or "" when there is no error.
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Error()
}

// Patch is a partial update merged onto a State.
type Patch func(*State)

// Loading sets IsLoading.
func Loading(v bool) Patch {
	return func(s *State) { s.IsLoading = v }
}

// Refetching sets IsRefetching.
func Refetching(v bool) Patch {
	return func(s *State) { s.IsRefetching = v }
}

// Mutating sets IsMutating.
func Mutating(v bool) Patch {
	return func(s *State) { s.IsMutating = v }
}

// Failed records err as the last error.
func Failed(err error) Patch {
	return func(s *State) { s.Error = err }
}

// ClearError removes the recorded error.
func ClearError() Patch {
	return func(s *State) { s.Error = nil }
}

// Retries sets the retry count.
func Retries(n uint32) Patch {
	return func(s *State) { s.RetryCount = n }
}

// IncrementRetry adds one to the retry count.
func IncrementRetry() Patch {
	return func(s *State) { s.RetryCount++ }
}

// Idle clears all three in-flight flags.
func Idle() Patch {
	return func(s *State) {
		s.IsLoading = false
		s.IsRefetching = false
		s.IsMutating = false
	}
}
