package graph

import (
	"container/heap"
	"time"

	"spacegraph/internal/domain"
)

// expiryEntry is one node waiting in an expiry index
type expiryEntry struct {
	at time.Time
	id domain.GlobalID
}

// expiryHeap orders entries by time, then id
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int { return len(h) }
func (h expiryHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].id.Less(h[j].id)
}
func (h expiryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)   { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// expiryIndex is a lazy min-heap holding at most one entry per node.
//
// Entries are not updated when a node's time moves forward. On pop the
// current time is read back through current; a newer time re-queues the
// node, a missing one drops it.
type expiryIndex struct {
	items   expiryHeap
	members map[domain.GlobalID]bool
	current func(domain.GlobalID) (time.Time, bool)
}

func newExpiryIndex(current func(domain.GlobalID) (time.Time, bool)) *expiryIndex {
	return &expiryIndex{
		items:   make(expiryHeap, 0),
		members: make(map[domain.GlobalID]bool),
		current: current,
	}
}

// track adds the node unless it already has an entry
func (x *expiryIndex) track(id domain.GlobalID, at time.Time) {
	if x.members[id] {
		return
	}
	x.members[id] = true
	heap.Push(&x.items, expiryEntry{at: at, id: id})
}

// forget drops membership; a leftover heap entry is discarded on pop
func (x *expiryIndex) forget(id domain.GlobalID) {
	delete(x.members, id)
}

// due pops every node whose current time is at or before cutoff, in
// (time, id) order. Nodes for which skip returns true stay indexed.
func (x *expiryIndex) due(cutoff time.Time, skip func(domain.GlobalID) bool) []domain.GlobalID {
	var out []domain.GlobalID
	var kept []expiryEntry

	for x.items.Len() > 0 && !x.items[0].at.After(cutoff) {
		e := heap.Pop(&x.items).(expiryEntry)
		if !x.members[e.id] {
			continue
		}
		at, ok := x.current(e.id)
		if !ok {
			delete(x.members, e.id)
			continue
		}
		if at.After(e.at) {
			heap.Push(&x.items, expiryEntry{at: at, id: e.id})
			continue
		}
		if skip != nil && skip(e.id) {
			kept = append(kept, e)
			continue
		}
		delete(x.members, e.id)
		out = append(out, e.id)
	}

	for _, e := range kept {
		heap.Push(&x.items, e)
	}
	return out
}

// len returns the number of tracked nodes
func (x *expiryIndex) len() int {
	return len(x.members)
}
