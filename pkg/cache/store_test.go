package cache

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, maxSize int) (*Store[int], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	store := NewStore[int](Config{
		Name:       t.Name(),
		DefaultTTL: time.Minute,
		MaxSize:    maxSize,
		Clock:      clock,
	})
	return store, clock
}

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore[string](Config{})

	if s.Name() != DefaultName {
		t.Errorf("Name() = %q, want %q", s.Name(), DefaultName)
	}
	if s.DefaultTTL() != DefaultTTL {
		t.Errorf("DefaultTTL() = %v, want %v", s.DefaultTTL(), DefaultTTL)
	}
	if s.maxSize != DefaultMaxSize {
		t.Errorf("maxSize = %d, want %d", s.maxSize, DefaultMaxSize)
	}
}

func TestStore_SetAndGet(t *testing.T) {
	s, _ := newTestStore(t, 10)

	s.Set("a", 1)
	if v, ok := s.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v, want 1, true", v, ok)
	}

	s.Set("a", 2)
	if v, ok := s.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) after overwrite = %v, %v, want 2, true", v, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_SetOptions(t *testing.T) {
	s, clock := newTestStore(t, 10)
	modified := testEpoch.Add(-time.Hour)

	s.Set("k", 7, WithTTL(10*time.Second), WithETag(`"v1"`), WithLastModified(modified))

	entry, ok := s.Lookup("k")
	if !ok {
		t.Fatal("Lookup(k) missed")
	}
	if entry.TTL != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", entry.TTL)
	}
	if entry.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", entry.ETag, `"v1"`)
	}
	if !entry.LastModified.Equal(modified) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, modified)
	}
	if !entry.WrittenAt.Equal(clock.Now()) {
		t.Errorf("WrittenAt = %v, want %v", entry.WrittenAt, clock.Now())
	}

	s.Set("k2", 8, WithTTL(0))
	if entry, _ := s.Lookup("k2"); entry.TTL != time.Minute {
		t.Errorf("non-positive TTL should fall back to default, got %v", entry.TTL)
	}
}

func TestStore_TTLBoundary(t *testing.T) {
	s, clock := newTestStore(t, 10)
	s.Set("k", 1, WithTTL(100*time.Millisecond))

	clock.Advance(100 * time.Millisecond)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry read exactly at its TTL should still be live")
	}

	clock.Advance(time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Fatal("entry read at ttl+1ms should be expired")
	}
	if s.Len() != 0 {
		t.Errorf("expired read should delete the entry, Len() = %d", s.Len())
	}

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", stats)
	}
}

// TestStore_WriteOrderEviction documents that reads do not protect an entry
// from size-bound eviction.
func TestStore_WriteOrderEviction(t *testing.T) {
	s, clock := newTestStore(t, 3)

	s.Set("A", 0)
	for i := 0; i < 50; i++ {
		clock.Advance(time.Millisecond)
		if _, ok := s.Get("A"); !ok {
			t.Fatal("A should be readable before eviction")
		}
	}

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Millisecond)
		s.Set(fmt.Sprintf("k%d", i), i)
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if _, ok := s.Lookup("A"); ok {
		t.Error("A should be evicted despite being recently read")
	}
	if got, want := s.Keys(), []string{"k1", "k2", "k3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestStore_EvictionBoundManyWrites(t *testing.T) {
	const maxSize = 5
	s, clock := newTestStore(t, maxSize)

	for i := 0; i < 40; i++ {
		s.Set(fmt.Sprintf("k%02d", i), i)
		clock.Advance(time.Second)
	}

	if s.Len() != maxSize {
		t.Fatalf("Len() = %d, want %d", s.Len(), maxSize)
	}
	want := []string{"k35", "k36", "k37", "k38", "k39"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

// TestStore_EvictionSameInstant relies on the write sequence to break ties
// when the clock does not move between writes.
func TestStore_EvictionSameInstant(t *testing.T) {
	s, _ := newTestStore(t, 3)

	s.Set("a", 1)
	s.Set("b", 2)
	s.Set("c", 3)
	s.Set("d", 4)

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Error("Get(a) should be empty")
	}
	if v, ok := s.Get("d"); !ok || v != 4 {
		t.Errorf("Get(d) = %v, %v, want 4, true", v, ok)
	}
}

func TestStore_OverwriteRefreshesWriteOrder(t *testing.T) {
	s, clock := newTestStore(t, 2)

	s.Set("a", 1)
	clock.Advance(time.Millisecond)
	s.Set("b", 2)
	clock.Advance(time.Millisecond)
	s.Set("a", 10)
	clock.Advance(time.Millisecond)
	s.Set("c", 3)

	if _, ok := s.Lookup("b"); ok {
		t.Error("b should be evicted: a was rewritten after it")
	}
	if v, ok := s.Get("a"); !ok || v != 10 {
		t.Errorf("Get(a) = %v, %v, want 10, true", v, ok)
	}
}

func TestStore_Invalidate(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		wantRemoved int
		wantKeys    []string
	}{
		{
			name:        "glob prefix",
			pattern:     "users/*",
			wantRemoved: 2,
			wantKeys:    []string{"posts/1"},
		},
		{
			name:        "empty pattern clears all",
			pattern:     "",
			wantRemoved: 3,
			wantKeys:    []string{},
		},
		{
			name:        "no match",
			pattern:     "comments/*",
			wantRemoved: 0,
			wantKeys:    []string{"posts/1", "users/1", "users/2"},
		},
		{
			name:        "unanchored match",
			pattern:     "/1",
			wantRemoved: 2,
			wantKeys:    []string{"users/2"},
		},
		{
			name:        "dot is a regex wildcard",
			pattern:     "users.1",
			wantRemoved: 1,
			wantKeys:    []string{"posts/1", "users/2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t, 10)
			s.Set("users/1", 1)
			s.Set("users/2", 2)
			s.Set("posts/1", 3)

			removed, err := s.Invalidate(tt.pattern)
			if err != nil {
				t.Fatalf("Invalidate(%q) error = %v", tt.pattern, err)
			}
			if removed != tt.wantRemoved {
				t.Errorf("Invalidate(%q) removed %d, want %d", tt.pattern, removed, tt.wantRemoved)
			}

			got := s.Keys()
			sort.Strings(got)
			if !reflect.DeepEqual(got, tt.wantKeys) {
				t.Errorf("Keys() = %v, want %v", got, tt.wantKeys)
			}
			if s.Stats().Size != len(tt.wantKeys) {
				t.Errorf("Stats().Size = %d, want %d", s.Stats().Size, len(tt.wantKeys))
			}
		})
	}
}

func TestStore_InvalidateBadPattern(t *testing.T) {
	s, _ := newTestStore(t, 10)
	s.Set("users(1", 1)

	removed, err := s.Invalidate("users(")
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Invalidate() error = %v, want %v", err, ErrInvalidPattern)
	}
	if removed != 0 || s.Len() != 1 {
		t.Errorf("bad pattern must not remove anything (removed=%d, len=%d)", removed, s.Len())
	}
}

func TestStore_ClearKeepsCounters(t *testing.T) {
	s, _ := newTestStore(t, 10)
	s.Set("a", 1)
	s.Get("a")
	s.Get("missing")

	s.Clear()

	stats := s.Stats()
	if stats.Size != 0 || s.Len() != 0 {
		t.Errorf("size after Clear = %d/%d, want 0", stats.Size, s.Len())
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("counters after Clear = %d hits / %d misses, want 1/1", stats.Hits, stats.Misses)
	}

	s.ResetStats()
	if stats := s.Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("counters after ResetStats = %+v, want zero", stats)
	}
}

func TestStore_Cleanup(t *testing.T) {
	s, clock := newTestStore(t, 10)
	s.Set("short", 1, WithTTL(time.Second))
	s.Set("long", 2, WithTTL(time.Hour))

	clock.Advance(2 * time.Second)
	removed := s.Cleanup()

	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := s.Lookup("short"); ok {
		t.Error("short should be purged")
	}
	if !s.IsCached("long") {
		t.Error("long should survive cleanup")
	}
	if got := s.Stats().LastCleanupAt; !got.Equal(clock.Now()) {
		t.Errorf("LastCleanupAt = %v, want %v", got, clock.Now())
	}
}

func TestStore_PredicatesDoNotTouchStats(t *testing.T) {
	s, clock := newTestStore(t, 10)
	s.Set("live", 1)
	s.Set("stale", 2, WithTTL(time.Second))
	clock.Advance(2 * time.Second)

	before := s.Stats()
	for i := 0; i < 10; i++ {
		if !s.IsCached("live") || s.IsExpired("live") {
			t.Fatal("live should be cached and not expired")
		}
		if s.IsCached("stale") || !s.IsExpired("stale") {
			t.Fatal("stale should be expired and not cached")
		}
		if s.IsCached("absent") || !s.IsExpired("absent") {
			t.Fatal("absent should be expired and not cached")
		}
	}

	if after := s.Stats(); after != before {
		t.Errorf("Stats changed from %+v to %+v", before, after)
	}
	if s.Len() != 2 {
		t.Errorf("predicates must not delete, Len() = %d", s.Len())
	}
}

func TestStore_HitRate(t *testing.T) {
	s, _ := newTestStore(t, 10)
	if s.HitRate() != 0 {
		t.Errorf("HitRate() with no traffic = %v, want 0", s.HitRate())
	}

	s.Set("a", 1)
	s.Get("a")
	s.Get("a")
	s.Get("a")
	s.Get("b")

	if got := s.HitRate(); got != 0.75 {
		t.Errorf("HitRate() = %v, want 0.75", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, 10)
	s.Set("a", 1)

	if !s.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if s.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	src, clock := newTestStore(t, 10)
	src.Set("keep", 1, WithTTL(time.Hour), WithETag(`"e1"`))
	src.Set("lapse", 2, WithTTL(10*time.Second))
	src.Get("keep")
	src.Get("nope")

	snap := src.Snapshot()
	if len(snap.Entries) != 2 || snap.Stats.Size != 2 {
		t.Fatalf("Snapshot() = %d entries (size %d), want 2", len(snap.Entries), snap.Stats.Size)
	}

	clock.Advance(time.Minute)
	dst := NewStore[int](Config{Name: t.Name() + "-dst", DefaultTTL: time.Minute, MaxSize: 10, Clock: clock})
	if n := dst.Restore(snap); n != 1 {
		t.Errorf("Restore() kept %d entries, want 1", n)
	}

	if v, ok := dst.Get("keep"); !ok || v != 1 {
		t.Errorf("Get(keep) = %v, %v, want 1, true", v, ok)
	}
	if _, ok := dst.Get("lapse"); ok {
		t.Error("lapse expired between snapshot and restore and must be gone")
	}
	if entry, _ := dst.Lookup("keep"); entry.ETag != `"e1"` {
		t.Errorf("ETag = %q after restore, want %q", entry.ETag, `"e1"`)
	}

	stats := dst.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("restored counters = %d hits / %d misses, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.Size != 1 {
		t.Errorf("restored Size = %d, want 1", stats.Size)
	}
}

func TestStore_RestoreAppliesSizeBound(t *testing.T) {
	src, clock := newTestStore(t, 10)
	for i := 0; i < 6; i++ {
		src.Set(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Millisecond)
	}

	dst := NewStore[int](Config{Name: t.Name() + "-dst", MaxSize: 4, Clock: clock})
	dst.Restore(src.Snapshot())

	if got, want := dst.Keys(), []string{"k2", "k3", "k4", "k5"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}
