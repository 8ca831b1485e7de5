// Package seen tracks the ride IDs a client session has already accounted
// for, either from the initial snapshot or from a live event.
package seen

import "sync"

// Set is a grow-only set of ride IDs. The zero value is not usable; call New.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was absent. The check and the
// insert happen under one lock, so exactly one concurrent caller sees true.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Insert is Add without the result.
func (s *Set) Insert(id string) { s.Add(id) }

// Union inserts every id. Existing members are left untouched.
func (s *Set) Union(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
