package domain

// GraphFragment is a partial graph from one source, used for snapshots and
// file imports.
type GraphFragment struct {
	Nodes []UpsertNode `json:"nodes" yaml:"nodes"`
	Edges []UpsertEdge `json:"edges" yaml:"edges"`
}

// NewGraphFragment creates an empty graph fragment
func NewGraphFragment() *GraphFragment {
	return &GraphFragment{
		Nodes: make([]UpsertNode, 0),
		Edges: make([]UpsertEdge, 0),
	}
}

// AddNode adds a node to the fragment
func (g *GraphFragment) AddNode(node UpsertNode) {
	g.Nodes = append(g.Nodes, node)
}

// AddEdge adds an edge to the fragment
func (g *GraphFragment) AddEdge(edge UpsertEdge) {
	g.Edges = append(g.Edges, edge)
}

// Deltas expands the fragment into a batch: open, nodes, edges, close.
// Nodes come first so no edge in the batch is an orphan.
func (g *GraphFragment) Deltas(batchID string) []Delta {
	out := make([]Delta, 0, len(g.Nodes)+len(g.Edges)+2)
	out = append(out, BatchOpen{BatchID: batchID})
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	for _, e := range g.Edges {
		out = append(out, e)
	}
	return append(out, BatchClose{BatchID: batchID})
}
