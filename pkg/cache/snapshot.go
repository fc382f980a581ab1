package cache

import (
	"time"
)

// Snapshot is the serializable state of a Store: its entries in write order
// plus the counters at the time it was taken.
type Snapshot[V any] struct {
	Entries []Record[V] `json:"entries" msgpack:"entries"`
	Stats   Stats       `json:"stats" msgpack:"stats"`
	TakenAt time.Time   `json:"taken_at" msgpack:"taken_at"`
}

// Record is one keyed entry of a Snapshot.
type Record[V any] struct {
	Key   string   `json:"key" msgpack:"key"`
	Entry Entry[V] `json:"entry" msgpack:"entry"`
}

// Snapshot captures every stored entry, expired or not, in write order.
func (s *Store[V]) Snapshot() Snapshot[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.writeOrderLocked()
	records := make([]Record[V], 0, len(keys))
	for _, key := range keys {
		records = append(records, Record[V]{Key: key, Entry: s.entries[key].entry})
	}

	stats := s.stats.Snapshot()
	stats.Size = len(records)

	return Snapshot[V]{
		Entries: records,
		Stats:   stats,
		TakenAt: s.clock.Now(),
	}
}

// Restore replaces the store's contents with snap and then runs Cleanup, so
// entries that expired while the snapshot sat in storage are purged at once.
// Hit and miss totals are taken from the snapshot; size is recomputed.
// Records with a non-positive TTL are dropped. Returns the number of entries
// that survived the cleanup.
func (s *Store[V]) Restore(snap Snapshot[V]) int {
	s.mu.Lock()
	s.entries = make(map[string]*record[V], len(snap.Entries))
	for _, r := range snap.Entries {
		if r.Entry.TTL <= 0 {
			continue
		}
		s.seq++
		s.entries[r.Key] = &record[V]{entry: r.Entry, seq: s.seq}
	}
	s.stats.Restore(snap.Stats)
	s.stats.SetSize(len(s.entries))
	s.mu.Unlock()

	s.Cleanup()
	return s.Len()
}
