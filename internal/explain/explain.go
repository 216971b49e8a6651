package explain

import (
	"sort"
	"strings"
	"time"

	"spacegraph/internal/domain"
)

// Graph is the read-only view explain needs. graph.Model implements it.
type Graph interface {
	Has(id domain.GlobalID) bool
	Adjacency(id domain.GlobalID) []domain.AdjRef
	Edge(key domain.AggKey) (domain.AggEdge, bool)
}

// Status is the outcome of a search
type Status string

const (
	StatusFound         Status = "found"
	StatusNotFound      Status = "not_found"
	StatusBoundExceeded Status = "bound_exceeded"
)

// BoundReason names the bound that stopped a search
type BoundReason string

const (
	BoundDepth BoundReason = "depth"
	BoundNodes BoundReason = "nodes"
)

// Limits bounds a search
type Limits struct {
	MaxDepth int `json:"max_depth"`
	NodeCap  int `json:"node_cap"`
}

// PathStep is one hop of a path. Reversed is set when the hop walks the
// edge against its direction.
type PathStep struct {
	From     domain.GlobalID  `json:"from"`
	To       domain.GlobalID  `json:"to"`
	Class    domain.EdgeClass `json:"class"`
	Reversed bool             `json:"reversed,omitempty"`
	LastTS   time.Time        `json:"last_ts"`
}

// Result is Found with a path, NotFound, or BoundExceeded with a reason.
// NotFound means the reachable component was exhausted.
type Result struct {
	Status  Status      `json:"status"`
	Path    []PathStep  `json:"path,omitempty"`
	Reason  BoundReason `json:"reason,omitempty"`
	Visited int         `json:"visited"`
}

// Found reports whether a path was found
func (r Result) Found() bool { return r.Status == StatusFound }

// candidate is the best known way to reach a node
type candidate struct {
	pred  domain.GlobalID
	ref   domain.AdjRef
	score time.Time // max last_ts along the path
	ts    time.Time // last_ts of the final hop
}

// better orders candidates: most recently active path first, then lowest
// predecessor id, then lowest edge class, then lowest edge key.
func (c candidate) better(o candidate) bool {
	if !c.score.Equal(o.score) {
		return c.score.After(o.score)
	}
	if cmp := c.pred.Compare(o.pred); cmp != 0 {
		return cmp < 0
	}
	if cmp := strings.Compare(string(c.ref.Key.Class), string(o.ref.Key.Class)); cmp != 0 {
		return cmp < 0
	}
	return c.ref.Key.Compare(o.ref.Key) < 0
}

// Explain finds a shortest undirected path from a to b by layered
// breadth-first search over adjacency lists. At most NodeCap distinct
// nodes are visited and at most MaxDepth hops are explored. Among
// shortest paths the tie-break is deterministic. A nil allowed admits
// every node.
func Explain(g Graph, a, b domain.GlobalID, lim Limits, allowed func(domain.GlobalID) bool) Result {
	if !g.Has(a) || !g.Has(b) {
		return Result{Status: StatusNotFound}
	}
	if a == b {
		return Result{Status: StatusFound, Path: []PathStep{}, Visited: 1}
	}
	if lim.NodeCap < 2 {
		return Result{Status: StatusBoundExceeded, Reason: BoundNodes, Visited: 1}
	}
	if lim.MaxDepth < 1 {
		return Result{Status: StatusBoundExceeded, Reason: BoundDepth, Visited: 1}
	}

	best := map[domain.GlobalID]candidate{a: {}}
	frontier := []domain.GlobalID{a}

	for depth := 0; depth < lim.MaxDepth && len(frontier) > 0; depth++ {
		// the target is admitted ahead of the rest of its layer
		if len(best) < lim.NodeCap {
			if c, ok := reach(g, frontier, best, b); ok {
				best[b] = c
				return Result{Status: StatusFound, Path: walk(best, a, b), Visited: len(best)}
			}
		}

		layer := make(map[domain.GlobalID]candidate)
		capped := false

	expand:
		for _, u := range frontier {
			for _, ref := range g.Adjacency(u) {
				v := ref.Key.Other(u)
				if _, seen := best[v]; seen {
					continue
				}
				if allowed != nil && v != b && !allowed(v) {
					continue
				}
				c, ok := step(g, best[u], u, ref)
				if !ok {
					continue
				}
				if prev, ok := layer[v]; ok {
					if c.better(prev) {
						layer[v] = c
					}
					continue
				}
				if len(best)+len(layer) >= lim.NodeCap {
					capped = true
					break expand
				}
				layer[v] = c
			}
		}

		for v, c := range layer {
			best[v] = c
		}
		if capped {
			return Result{Status: StatusBoundExceeded, Reason: BoundNodes, Visited: len(best)}
		}

		frontier = frontier[:0:0]
		for v := range layer {
			frontier = append(frontier, v)
		}
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].Less(frontier[j]) })
	}

	if len(frontier) > 0 && hasUnseen(g, frontier, best, allowed, b) {
		return Result{Status: StatusBoundExceeded, Reason: BoundDepth, Visited: len(best)}
	}
	return Result{Status: StatusNotFound, Visited: len(best)}
}

// step extends the path to u by one hop along ref
func step(g Graph, cu candidate, u domain.GlobalID, ref domain.AdjRef) (candidate, bool) {
	e, ok := g.Edge(ref.Key)
	if !ok {
		return candidate{}, false
	}
	c := candidate{pred: u, ref: ref, score: cu.score, ts: e.Stats.LastTS}
	if e.Stats.LastTS.After(c.score) {
		c.score = e.Stats.LastTS
	}
	return c, true
}

// reach returns the best one-hop extension from the frontier to b
func reach(g Graph, frontier []domain.GlobalID, best map[domain.GlobalID]candidate, b domain.GlobalID) (candidate, bool) {
	var found candidate
	ok := false
	for _, u := range frontier {
		for _, ref := range g.Adjacency(u) {
			if ref.Key.Other(u) != b {
				continue
			}
			c, valid := step(g, best[u], u, ref)
			if valid && (!ok || c.better(found)) {
				found, ok = c, true
			}
		}
	}
	return found, ok
}

// hasUnseen reports whether any frontier node has an admissible unvisited
// neighbor, i.e. whether the depth bound cut the search short.
func hasUnseen(g Graph, frontier []domain.GlobalID, best map[domain.GlobalID]candidate, allowed func(domain.GlobalID) bool, b domain.GlobalID) bool {
	for _, u := range frontier {
		for _, ref := range g.Adjacency(u) {
			v := ref.Key.Other(u)
			if _, seen := best[v]; seen {
				continue
			}
			if allowed == nil || v == b || allowed(v) {
				return true
			}
		}
	}
	return false
}

func walk(best map[domain.GlobalID]candidate, a, b domain.GlobalID) []PathStep {
	var path []PathStep
	for v := b; v != a; {
		c := best[v]
		path = append(path, PathStep{
			From:     c.pred,
			To:       v,
			Class:    c.ref.Key.Class,
			Reversed: c.ref.Key.From != c.pred,
			LastTS:   c.ts,
		})
		v = c.pred
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
