// Package persist saves and restores cache snapshots so a restarted process
// can resume with a warm cache. A Persister pairs a Codec (JSON or msgpack)
// with a Backend (Redis key or local file).
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
)

// FormatVersion is written into every envelope. Load rejects other versions.
const FormatVersion = 1

type envelope[V any] struct {
	Version  int               `json:"version" msgpack:"version"`
	TakenAt  time.Time         `json:"taken_at" msgpack:"taken_at"`
	Snapshot cache.Snapshot[V] `json:"snapshot" msgpack:"snapshot"`
}

// Persister saves and loads snapshots of a Store[V].
type Persister[V any] struct {
	codec   Codec
	backend Backend
}

// New creates a persister. A nil codec means JSON.
func New[V any](backend Backend, codec Codec) *Persister[V] {
	if codec == nil {
		codec = JSON()
	}
	return &Persister[V]{codec: codec, backend: backend}
}

// Codec returns the codec snapshots are written with.
func (p *Persister[V]) Codec() Codec {
	return p.codec
}

// Save encodes snap and writes it to the backend, replacing any earlier one.
func (p *Persister[V]) Save(ctx context.Context, snap cache.Snapshot[V]) error {
	data, err := p.codec.Marshal(envelope[V]{
		Version:  FormatVersion,
		TakenAt:  snap.TakenAt,
		Snapshot: snap,
	})
	if err != nil {
		snapshotOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := p.backend.Write(ctx, data); err != nil {
		snapshotOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}

	snapshotOps.WithLabelValues("save", "success").Inc()
	snapshotBytes.WithLabelValues(p.codec.Name()).Set(float64(len(data)))
	return nil
}

// Load reads and decodes the stored snapshot.
// Returns ErrNoSnapshot, ErrCorruptSnapshot or ErrUnsupportedVersion (wrapped)
// for the expected failure modes.
func (p *Persister[V]) Load(ctx context.Context) (cache.Snapshot[V], error) {
	data, err := p.backend.Read(ctx)
	if err != nil {
		snapshotOps.WithLabelValues("load", "error").Inc()
		return cache.Snapshot[V]{}, err
	}

	var env envelope[V]
	if err := p.codec.Unmarshal(data, &env); err != nil {
		snapshotOps.WithLabelValues("load", "error").Inc()
		return cache.Snapshot[V]{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if env.Version != FormatVersion {
		snapshotOps.WithLabelValues("load", "error").Inc()
		return cache.Snapshot[V]{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	snapshotOps.WithLabelValues("load", "success").Inc()
	snapshotBytes.WithLabelValues(p.codec.Name()).Set(float64(len(data)))
	return env.Snapshot, nil
}

// Discard deletes the stored snapshot.
func (p *Persister[V]) Discard(ctx context.Context) error {
	return p.backend.Delete(ctx)
}
