// Package view holds the materialized list of rides shown to the operator.
package view

import (
	"sync"

	"github.com/example/ride-notifier/internal/models"
)

// Listener receives the full list after every change.
type Listener func([]models.Ride)

// Store is an ordered, ID-keyed collection of rides. Updates to a known ID
// replace the entry in place; unknown IDs are appended.
type Store struct {
	mu    sync.RWMutex
	rides []models.Ride
	index map[string]int
	rev   uint64

	listenMu  sync.Mutex
	listeners map[int]Listener
	order     []int
	nextID    int
	notified  uint64
}

func New() *Store {
	return &Store{index: make(map[string]int), listeners: make(map[int]Listener)}
}

// ReplaceAll swaps the whole list. Duplicate IDs in rides collapse to one
// entry at the first position, holding the last value.
func (s *Store) ReplaceAll(rides []models.Ride) {
	s.mu.Lock()
	s.rides = make([]models.Ride, 0, len(rides))
	s.index = make(map[string]int, len(rides))
	for _, r := range rides {
		s.putLocked(r)
	}
	rev, list := s.bumpLocked()
	s.mu.Unlock()
	s.notify(rev, list)
}

// Upsert inserts r if its ID is unknown, or replaces the existing entry.
func (s *Store) Upsert(r models.Ride) {
	s.mu.Lock()
	s.putLocked(r)
	rev, list := s.bumpLocked()
	s.mu.Unlock()
	s.notify(rev, list)
}

func (s *Store) putLocked(r models.Ride) {
	if i, ok := s.index[r.ID]; ok {
		s.rides[i] = r
		return
	}
	s.index[r.ID] = len(s.rides)
	s.rides = append(s.rides, r)
}

func (s *Store) bumpLocked() (uint64, []models.Ride) {
	s.rev++
	return s.rev, s.copyLocked()
}

func (s *Store) copyLocked() []models.Ride {
	out := make([]models.Ride, len(s.rides))
	copy(out, s.rides)
	return out
}

// CurrentList returns a copy of the list at call time.
func (s *Store) CurrentList() []models.Ride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Get(id string) (models.Ride, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Ride{}, false
	}
	return s.rides[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rides)
}

// OnChange registers l and returns a func that removes it. Listeners run
// outside the store lock, in registration order, and never observe an older
// list after a newer one. A listener must not mutate the store or
// unsubscribe from inside the callback.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenMu.Lock()
			defer s.listenMu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) notify(rev uint64, list []models.Ride) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	// a concurrent writer already delivered a newer list
	if rev <= s.notified {
		return
	}
	s.notified = rev
	for _, id := range s.order {
		s.listeners[id](list)
	}
}
