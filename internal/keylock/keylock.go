// Package keylock serialises work per key. An entry lives only while some
// caller holds or waits for it.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a set of mutexes addressed by key. The zero value is not usable;
// call New.
type Set struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Set.
func New() *Set {
	return &Set{entries: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (s *Set) Lock(key string) (unlock func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
}

// Len reports how many keys are currently held or waited on.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
