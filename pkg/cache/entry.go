package cache

import (
	"time"
)

// Entry is a cached value together with its write metadata.
type Entry[V any] struct {
	// Value is the cached payload
	Value V `json:"value" msgpack:"value"`

	// WrittenAt is when the value was stored
	WrittenAt time.Time `json:"written_at" msgpack:"written_at"`

	// TTL is how long the value may be served after WrittenAt
	TTL time.Duration `json:"ttl" msgpack:"ttl"`

	// ETag for conditional revalidation (If-None-Match)
	ETag string `json:"etag,omitempty" msgpack:"etag,omitempty"`

	// LastModified for conditional revalidation (If-Modified-Since)
	LastModified time.Time `json:"last_modified,omitempty" msgpack:"last_modified,omitempty"`
}

// IsLive reports whether the entry may still be served at now.
// The boundary is inclusive: an entry read exactly TTL after its write is live.
func (e *Entry[V]) IsLive(now time.Time) bool {
	return now.Sub(e.WrittenAt) <= e.TTL
}

// ExpiresAt is the last instant at which the entry is live.
func (e *Entry[V]) ExpiresAt() time.Time {
	return e.WrittenAt.Add(e.TTL)
}

// Remaining returns the time left until expiry.
// Returns 0 if already expired.
func (e *Entry[V]) Remaining(now time.Time) time.Duration {
	left := e.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// HasValidators reports whether the entry can back a conditional request.
func (e *Entry[V]) HasValidators() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
