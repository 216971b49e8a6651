package gc

import (
	"sort"
	"sync"

	"spacegraph/internal/domain"
)

// PinSet is a concurrency-safe set of pinned nodes, driven by UI selection
type PinSet struct {
	mu   sync.RWMutex
	pins map[domain.GlobalID]struct{}
}

// NewPinSet creates an empty pin set
func NewPinSet() *PinSet {
	return &PinSet{pins: make(map[domain.GlobalID]struct{})}
}

// Pin adds a node
func (s *PinSet) Pin(id domain.GlobalID) {
	s.mu.Lock()
	s.pins[id] = struct{}{}
	s.mu.Unlock()
}

// Unpin removes a node
func (s *PinSet) Unpin(id domain.GlobalID) {
	s.mu.Lock()
	delete(s.pins, id)
	s.mu.Unlock()
}

// Pinned reports whether the node is pinned
func (s *PinSet) Pinned(id domain.GlobalID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pins[id]
	return ok
}

// List returns pinned nodes in id order
func (s *PinSet) List() []domain.GlobalID {
	s.mu.RLock()
	out := make([]domain.GlobalID, 0, len(s.pins))
	for id := range s.pins {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
