package cache

import "sync/atomic"

// Snapshot is a lock-free, read-optimized container
// holding any immutable structure.
type Snapshot[T any] struct{ v atomic.Pointer[T] }

// Load returns the stored value and whether one has been stored yet.
func (s *Snapshot[T]) Load() (T, bool) {
	p := s.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Store atomically swaps in the new value. Readers holding the old value
// keep a consistent view.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(&v)
}
