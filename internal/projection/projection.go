// Package projection selects the bounded subset of the graph handed to
// rendering. It is the one place allowed to look at every node; everything
// it returns is capped.
package projection

import (
	"sort"
	"strings"

	"spacegraph/internal/domain"
)

// Graph is what a projection reads. graph.Model implements it.
type Graph interface {
	ForEachNode(fn func(*domain.Node) bool)
	Adjacency(id domain.GlobalID) []domain.AdjRef
	Edge(key domain.AggKey) (domain.AggEdge, bool)
}

// Pins reports pinned nodes
type Pins interface {
	Pinned(id domain.GlobalID) bool
}

// State selects a view. It never mutates the graph.
type State struct {
	// ActiveSources limits the view to these sources; empty means all
	ActiveSources map[domain.NodeKey]bool `json:"active_sources,omitempty"`
	Cap           int                     `json:"cap"`
	EdgeCap       int                     `json:"edge_cap"`
	// IncludeTombstoned also admits tombstoned nodes
	IncludeTombstoned bool `json:"include_tombstoned,omitempty"`
}

// View is the capped visible set
type View struct {
	Nodes          []domain.GlobalID `json:"nodes"`
	Edges          []domain.AggKey   `json:"edges"`
	TotalNodes     int               `json:"total_nodes"`
	TruncatedNodes int               `json:"truncated_nodes"`
	TruncatedEdges int               `json:"truncated_edges"`
}

type entry struct {
	id     domain.GlobalID
	seq    uint64
	pinned bool
}

// VisibleSet orders admissible nodes by recency (most recent apply
// sequence first), then pinned before unpinned, then by id, and keeps
// the first Cap. Edges are gathered through the visible nodes' adjacency
// lists, ordered by last activity then key, and capped at EdgeCap.
func VisibleSet(g Graph, st State, pins Pins) View {
	var all []entry
	g.ForEachNode(func(n *domain.Node) bool {
		if n.RemovedAt != nil && !st.IncludeTombstoned {
			return true
		}
		if len(st.ActiveSources) > 0 && !st.ActiveSources[n.ID.Key] {
			return true
		}
		all = append(all, entry{
			id:     n.ID,
			seq:    n.LastSeq,
			pinned: pins != nil && pins.Pinned(n.ID),
		})
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		if a.pinned != b.pinned {
			return a.pinned
		}
		return a.id.Less(b.id)
	})

	view := View{TotalNodes: len(all)}
	if st.Cap >= 0 && len(all) > st.Cap {
		view.TruncatedNodes = len(all) - st.Cap
		all = all[:st.Cap]
	}

	visible := make(map[domain.GlobalID]bool, len(all))
	view.Nodes = make([]domain.GlobalID, len(all))
	for i, e := range all {
		visible[e.id] = true
		view.Nodes[i] = e.id
	}

	seen := make(map[domain.AggKey]bool)
	var edges []domain.AggEdge
	for _, id := range view.Nodes {
		for _, ref := range g.Adjacency(id) {
			k := ref.Key
			if seen[k] || !visible[k.From] || !visible[k.To] {
				continue
			}
			seen[k] = true
			if e, ok := g.Edge(k); ok {
				edges = append(edges, e)
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if !a.Stats.LastTS.Equal(b.Stats.LastTS) {
			return a.Stats.LastTS.After(b.Stats.LastTS)
		}
		return a.Key.Compare(b.Key) < 0
	})
	if st.EdgeCap >= 0 && len(edges) > st.EdgeCap {
		view.TruncatedEdges = len(edges) - st.EdgeCap
		edges = edges[:st.EdgeCap]
	}
	view.Edges = make([]domain.AggKey, len(edges))
	for i, e := range edges {
		view.Edges[i] = e.Key
	}
	return view
}

// ParseSources reads a comma-separated source list
func ParseSources(s string) map[domain.NodeKey]bool {
	out := make(map[domain.NodeKey]bool)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[domain.NodeKey(part)] = true
		}
	}
	return out
}
