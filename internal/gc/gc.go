// Package gc ages nodes out of the truth graph.
//
// A node not refreshed for TTL is tombstoned; a node tombstoned for the
// grace period is purged together with its incident edges. Both steps are
// driven by the model's expiry indices, so a sweep costs time proportional
// to the number of nodes that are due, not to the graph size.
package gc

import (
	"time"

	"spacegraph/internal/domain"
)

// Graph is the slice of the model a sweep mutates. graph.Model implements it.
type Graph interface {
	ExpiredBefore(cutoff time.Time, skip func(domain.GlobalID) bool) []domain.GlobalID
	GravesBefore(cutoff time.Time, skip func(domain.GlobalID) bool) []domain.GlobalID
	Tombstone(id domain.GlobalID, at time.Time) bool
	Purge(id domain.GlobalID) bool
	Degree(id domain.GlobalID) int
}

// Pins reports nodes held by an external selection. Pinned nodes are
// never purged.
type Pins interface {
	Pinned(id domain.GlobalID) bool
}

// Policy configures a sweep
type Policy struct {
	TTL   time.Duration
	Grace time.Duration
	// OrphansOnly restricts tombstoning to nodes without edges
	OrphansOnly bool
}

// Result lists what a sweep changed
type Result struct {
	Tombstoned []domain.GlobalID `json:"tombstoned"`
	Purged     []domain.GlobalID `json:"purged"`
	// Held counts due nodes kept alive by a pin
	Held int `json:"held"`
}

// Empty reports whether the sweep changed nothing
func (r Result) Empty() bool {
	return len(r.Tombstoned) == 0 && len(r.Purged) == 0
}

// Sweep tombstones nodes with now-last_seen >= TTL and purges nodes with
// now-removed_at >= Grace. Nodes tombstoned by this sweep are not purged
// by it. A nil pins pins nothing.
func Sweep(g Graph, now time.Time, p Policy, pins Pins) Result {
	var res Result

	pinned := func(id domain.GlobalID) bool {
		if pins != nil && pins.Pinned(id) {
			res.Held++
			return true
		}
		return false
	}

	for _, id := range g.GravesBefore(now.Add(-p.Grace), pinned) {
		if g.Purge(id) {
			res.Purged = append(res.Purged, id)
		}
	}

	var skip func(domain.GlobalID) bool
	if p.OrphansOnly {
		skip = func(id domain.GlobalID) bool { return g.Degree(id) > 0 }
	}
	for _, id := range g.ExpiredBefore(now.Add(-p.TTL), skip) {
		if g.Tombstone(id, now) {
			res.Tombstoned = append(res.Tombstoned, id)
		}
	}

	return res
}
