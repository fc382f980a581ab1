package revalidate

import "sync"

// Registry is the set of keys marked for background revalidation, kept in
// insertion order. It is pure bookkeeping; the Scheduler acts on it.
type Registry struct {
	mu    sync.Mutex
	keys  []string
	index map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]struct{})}
}

// Add marks key for revalidation. Adding a present key is a no-op and keeps
// its original position.
func (r *Registry) Add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[key]; ok {
		return
	}
	r.index[key] = struct{}{}
	r.keys = append(r.keys, key)
}

// Remove unmarks key. Removing an absent key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[key]; !ok {
		return
	}
	delete(r.index, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Contains reports whether key is marked.
func (r *Registry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[key]
	return ok
}

// List returns a copy of the marked keys in insertion order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// Len is the number of marked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Reset unmarks every key.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = nil
	r.index = make(map[string]struct{})
}
