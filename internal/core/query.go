package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"spacegraph/internal/domain"
	"spacegraph/internal/explain"
	"spacegraph/internal/graph"
	"spacegraph/internal/ingest"
	"spacegraph/internal/projection"
	"spacegraph/internal/timeline"
)

// ErrNodeNotFound is returned for queries about a node the graph does not hold
var ErrNodeNotFound = errors.New("node not found")

// Node returns a copy of a node
func (c *Core) Node(id domain.GlobalID) (domain.Node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.model.Node(id)
	if !ok {
		return domain.Node{}, ErrNodeNotFound
	}
	return n, nil
}

// Label returns the short display label of a node
func (c *Core) Label(id domain.GlobalID) (string, error) {
	n, err := c.Node(id)
	if err != nil {
		return "", err
	}
	return n.Label(), nil
}

// Neighbors returns up to limit distinct neighbors and the uncapped total
func (c *Core) Neighbors(id domain.GlobalID, limit int) ([]domain.GlobalID, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.model.Has(id) {
		return nil, 0, ErrNodeNotFound
	}
	out := c.model.Neighbors(id)
	total := len(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// Edges returns up to limit edges of a node, most recent first, and the
// uncapped total
func (c *Core) Edges(id domain.GlobalID, raw bool, limit int) ([]domain.EdgeView, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.model.Has(id) {
		return nil, 0, ErrNodeNotFound
	}
	out := c.model.EdgesFor(id, raw)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Stats.LastTS.After(out[j].Stats.LastTS)
	})
	total := len(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// Explain searches for a path from a to b. With scope set the search only
// walks nodes of that visible set. Results are cached per graph version.
func (c *Core) Explain(ctx context.Context, a, b domain.GlobalID, lim explain.Limits, scope *projection.State) explain.Result {
	_, span := c.tracer.Start(ctx, "core.explain")
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	key := explain.CacheKey{A: a, B: b, Limits: lim, Version: c.model.Version()}
	if scope != nil {
		key.Scope = scopeKey(*scope)
	}
	if res, ok := c.cache.Get(key); ok {
		c.countExplain("cache_hit")
		span.SetAttributes(attribute.Bool("cached", true), attribute.String("status", string(res.Status)))
		return res
	}

	var allowed func(domain.GlobalID) bool
	if scope != nil {
		view := projection.VisibleSet(c.model, *scope, c.pins)
		visible := make(map[domain.GlobalID]bool, len(view.Nodes))
		for _, id := range view.Nodes {
			visible[id] = true
		}
		allowed = func(id domain.GlobalID) bool { return visible[id] }
	}

	res := explain.Explain(c.model, a, b, lim, allowed)
	c.cache.Add(key, res)
	c.countExplain(string(res.Status))
	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Int("visited", res.Visited))
	return res
}

func (c *Core) countExplain(outcome string) {
	if c.metrics != nil {
		c.metrics.ExplainOutcomes.WithLabelValues(outcome).Inc()
	}
}

func scopeKey(st projection.State) string {
	srcs := make([]string, 0, len(st.ActiveSources))
	for k := range st.ActiveSources {
		srcs = append(srcs, string(k))
	}
	sort.Strings(srcs)
	return fmt.Sprintf("%v|%d|%d|%t", srcs, st.Cap, st.EdgeCap, st.IncludeTombstoned)
}

// Visible returns the capped visible set
func (c *Core) Visible(st projection.State) projection.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return projection.VisibleSet(c.model, st, c.pins)
}

// Worldline returns the node's presence interval in the window
func (c *Core) Worldline(id domain.GlobalID, window time.Duration) timeline.Worldline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeline.Worldline(c.model, id, window)
}

// NodeState returns the lifecycle state of a node
func (c *Core) NodeState(id domain.GlobalID) timeline.NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeline.State(c.model, id)
}

// Timeline returns the events of the window, capped at max
func (c *Core) Timeline(window time.Duration, max int) timeline.WindowResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeline.EventsInWindow(window, max)
}

// BatchSpans returns the batch spans of the window
func (c *Core) BatchSpans(window time.Duration) []timeline.Span {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeline.BatchSpans(window)
}

// Search finds nodes by id or label
func (c *Core) Search(query string, limit int) []domain.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.Search(query, limit)
}

// Stats combines model, timeline and pin counters
type Stats struct {
	graph.Stats
	Tick             uint64 `json:"tick"`
	TimelineEvents   int    `json:"timeline_events"`
	TimelineEvicted  uint64 `json:"timeline_evicted"`
	Pinned           int    `json:"pinned"`
	ExplainCacheSize int    `json:"explain_cache_size"`
	QueueDepth       int    `json:"queue_depth"`
}

// Stats returns current counters
func (c *Core) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Stats:            c.model.Stats(),
		Tick:             c.tick,
		TimelineEvents:   c.timeline.Len(),
		TimelineEvicted:  c.timeline.Evicted(),
		Pinned:           len(c.pins.List()),
		ExplainCacheSize: c.cache.Len(),
		QueueDepth:       c.registry.Depth(),
	}
}

// Sources returns per-source ingest statistics
func (c *Core) Sources() []ingest.SourceStats {
	return c.registry.Sources()
}

// Digest fingerprints the graph state
func (c *Core) Digest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.Digest()
}

// Fragment exports the live nodes of one source and the edges between
// them. Aggregation counters are not part of a fragment.
func (c *Core) Fragment(source domain.NodeKey) *domain.GraphFragment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []domain.GlobalID
	c.model.ForEachNode(func(n *domain.Node) bool {
		if n.ID.Key == source && !n.Tombstoned() {
			ids = append(ids, n.ID)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	frag := domain.NewGraphFragment()
	live := make(map[domain.GlobalID]bool, len(ids))
	for _, id := range ids {
		n, _ := c.model.Node(id)
		live[id] = true
		frag.AddNode(domain.UpsertNode{ID: id.Local, Kind: n.Kind, Attrs: n.Attrs})
	}

	var edges []domain.AggEdge
	for _, id := range ids {
		for _, v := range c.model.EdgesFor(id, false) {
			if v.Dir == domain.DirOut && live[v.Key.To] {
				edges = append(edges, v.AggEdge)
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key.Compare(edges[j].Key) < 0 })
	for _, e := range edges {
		frag.AddEdge(domain.UpsertEdge{
			From:    e.Key.From.Local,
			To:      e.Key.To.Local,
			Kind:    e.Kind,
			Payload: e.LastPayload,
		})
	}
	return frag
}

// Import queues a fragment for source as one batch. It is applied on the
// next tick like any other ingested message.
func (c *Core) Import(ctx context.Context, source domain.NodeKey, frag *domain.GraphFragment, at time.Time) (int, error) {
	if !domain.ValidNodeKey(source) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidID, source)
	}
	q := c.registry.Queue(source)
	batchID := fmt.Sprintf("import-%d", at.UnixNano())
	deltas := frag.Deltas(batchID)
	for _, d := range deltas {
		if _, err := q.Push(ctx, at, d); err != nil {
			return 0, fmt.Errorf("import into %s: %w", source, err)
		}
	}
	return len(deltas), nil
}
