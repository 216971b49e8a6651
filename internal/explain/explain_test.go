package explain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacegraph/internal/domain"
	"spacegraph/internal/graph"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func id(local string) domain.GlobalID {
	return domain.NewGlobalID("h", domain.LocalID(local))
}

type builder struct {
	m *graph.Model
}

func newBuilder() *builder {
	return &builder{m: graph.New(graph.Options{})}
}

func (b *builder) node(local string, kind domain.NodeKind) *builder {
	b.m.Apply(domain.Incoming{Source: "h", At: t0, Delta: domain.UpsertNode{ID: domain.LocalID(local), Kind: kind}})
	return b
}

func (b *builder) edge(from, to string, kind domain.EdgeKind, sec int) *builder {
	b.m.Apply(domain.Incoming{Source: "h", At: at(sec), Delta: domain.UpsertEdge{
		From: domain.LocalID(from), To: domain.LocalID(to), Kind: kind,
	}})
	return b
}

func TestExplainChain(t *testing.T) {
	g := newBuilder().
		node("P1", domain.NodeKindProcess).
		node("F1", domain.NodeKindFile).
		node("U1", domain.NodeKindUser).
		edge("P1", "F1", domain.EdgeKindOpens, 1).
		edge("F1", "U1", domain.EdgeKindRunsAs, 2).m

	res := Explain(g, id("P1"), id("U1"), Limits{MaxDepth: 3, NodeCap: 10}, nil)
	require.Equal(t, StatusFound, res.Status)
	require.Len(t, res.Path, 2)
	assert.Equal(t, PathStep{From: id("P1"), To: id("F1"), Class: "opens", LastTS: at(1)}, res.Path[0])
	assert.Equal(t, PathStep{From: id("F1"), To: id("U1"), Class: "runs_as", LastTS: at(2)}, res.Path[1])

	t.Run("walks edges backwards", func(t *testing.T) {
		res := Explain(g, id("U1"), id("P1"), Limits{MaxDepth: 3, NodeCap: 10}, nil)
		require.True(t, res.Found())
		assert.True(t, res.Path[0].Reversed)
		assert.Equal(t, id("U1"), res.Path[0].From)
	})
}

func TestExplainOutcomes(t *testing.T) {
	g := newBuilder().
		node("a", domain.NodeKindProcess).
		node("b", domain.NodeKindProcess).
		node("c", domain.NodeKindProcess).
		node("d", domain.NodeKindProcess).
		node("island", domain.NodeKindFile).
		edge("a", "b", domain.EdgeKindParentOf, 1).
		edge("b", "c", domain.EdgeKindParentOf, 1).
		edge("c", "d", domain.EdgeKindParentOf, 1).m

	tests := []struct {
		name   string
		from   string
		to     string
		limits Limits
		status Status
		reason BoundReason
	}{
		{"same node", "a", "a", Limits{MaxDepth: 1, NodeCap: 1}, StatusFound, ""},
		{"unknown endpoint", "a", "ghost", Limits{MaxDepth: 4, NodeCap: 10}, StatusNotFound, ""},
		{"disconnected", "a", "island", Limits{MaxDepth: 4, NodeCap: 10}, StatusNotFound, ""},
		{"depth exceeded", "a", "d", Limits{MaxDepth: 2, NodeCap: 10}, StatusBoundExceeded, BoundDepth},
		{"node cap exceeded", "a", "d", Limits{MaxDepth: 5, NodeCap: 3}, StatusBoundExceeded, BoundNodes},
		{"exact depth found", "a", "d", Limits{MaxDepth: 3, NodeCap: 4}, StatusFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Explain(g, id(tt.from), id(tt.to), tt.limits, nil)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.LessOrEqual(t, res.Visited, tt.limits.NodeCap)
		})
	}
}

func TestExplainTargetAheadOfSiblings(t *testing.T) {
	b := newBuilder().node("a", domain.NodeKindProcess).node("b", domain.NodeKindFile)
	for _, x := range []string{"x1", "x2", "x3"} {
		b.node(x, domain.NodeKindFile).edge("a", x, domain.EdgeKindOpens, 1)
	}
	b.edge("a", "b", domain.EdgeKindOpens, 1)

	for nodeCap := 2; nodeCap <= 5; nodeCap++ {
		t.Run(fmt.Sprintf("cap %d", nodeCap), func(t *testing.T) {
			res := Explain(b.m, id("a"), id("b"), Limits{MaxDepth: 1, NodeCap: nodeCap}, nil)
			require.Equal(t, StatusFound, res.Status)
			assert.Equal(t, []PathStep{{From: id("a"), To: id("b"), Class: "opens", LastTS: at(1)}}, res.Path)
			assert.LessOrEqual(t, res.Visited, nodeCap)
		})
	}
}

func TestExplainTieBreak(t *testing.T) {
	t.Run("prefers most recently active path", func(t *testing.T) {
		g := newBuilder().
			node("a", domain.NodeKindProcess).
			node("m1", domain.NodeKindFile).
			node("m2", domain.NodeKindFile).
			node("z", domain.NodeKindUser).
			edge("a", "m1", domain.EdgeKindOpens, 1).
			edge("m1", "z", domain.EdgeKindRunsAs, 1).
			edge("a", "m2", domain.EdgeKindOpens, 1).
			edge("m2", "z", domain.EdgeKindRunsAs, 9).m

		res := Explain(g, id("a"), id("z"), Limits{MaxDepth: 4, NodeCap: 10}, nil)
		require.True(t, res.Found())
		assert.Equal(t, id("m2"), res.Path[0].To)
	})

	t.Run("falls back to lowest id", func(t *testing.T) {
		g := newBuilder().
			node("a", domain.NodeKindProcess).
			node("m2", domain.NodeKindFile).
			node("m1", domain.NodeKindFile).
			node("z", domain.NodeKindUser).
			edge("a", "m2", domain.EdgeKindOpens, 1).
			edge("m2", "z", domain.EdgeKindRunsAs, 1).
			edge("a", "m1", domain.EdgeKindOpens, 1).
			edge("m1", "z", domain.EdgeKindRunsAs, 1).m

		for i := 0; i < 5; i++ {
			res := Explain(g, id("a"), id("z"), Limits{MaxDepth: 4, NodeCap: 10}, nil)
			require.True(t, res.Found())
			assert.Equal(t, id("m1"), res.Path[0].To)
		}
	})
}

func TestExplainAllowed(t *testing.T) {
	g := newBuilder().
		node("a", domain.NodeKindProcess).
		node("hidden", domain.NodeKindFile).
		node("z", domain.NodeKindUser).
		edge("a", "hidden", domain.EdgeKindOpens, 1).
		edge("hidden", "z", domain.EdgeKindRunsAs, 1).m

	allowed := func(v domain.GlobalID) bool { return v != id("hidden") }
	res := Explain(g, id("a"), id("z"), Limits{MaxDepth: 4, NodeCap: 10}, allowed)
	assert.Equal(t, StatusNotFound, res.Status)
}

func TestExplainBoundedOnDenseGraph(t *testing.T) {
	b := newBuilder()
	for i := 0; i < 50; i++ {
		b.node(fmt.Sprint(i), domain.NodeKindProcess)
	}
	for i := 0; i < 50; i++ {
		for j := i + 1; j < 50; j++ {
			b.edge(fmt.Sprint(i), fmt.Sprint(j), domain.EdgeKindParentOf, 1)
		}
	}
	b.node("far", domain.NodeKindFile)

	res := Explain(b.m, id("0"), id("far"), Limits{MaxDepth: 10, NodeCap: 20}, nil)
	assert.Equal(t, StatusBoundExceeded, res.Status)
	assert.Equal(t, BoundNodes, res.Reason)
	assert.Equal(t, 20, res.Visited)
}

func TestCache(t *testing.T) {
	c := NewCache(2, time.Minute)
	k := CacheKey{A: id("a"), B: id("b"), Limits: Limits{MaxDepth: 1, NodeCap: 2}, Version: 1}
	c.Add(k, Result{Status: StatusNotFound})

	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, StatusNotFound, got.Status)

	k.Version = 2
	_, ok = c.Get(k)
	assert.False(t, ok, "a new graph version must miss")

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCacheConfigureInPlace(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCache(3, time.Minute)
	c.now = func() time.Time { return now }
	key := func(v uint64) CacheKey { return CacheKey{A: id("a"), B: id("b"), Version: v} }
	for v := uint64(1); v <= 3; v++ {
		c.Add(key(v), Result{Status: StatusFound})
	}

	c.Configure(2, time.Second)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(key(1))
	assert.False(t, ok, "shrinking evicts the oldest entry")
	_, ok = c.Get(key(3))
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get(key(3))
	assert.False(t, ok, "entries expire under the new TTL")
	assert.Equal(t, 1, c.Len())
}
