package graph

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spacegraph/internal/domain"
)

// DefaultRawPerKey bounds raw edges retained per aggregate in raw mode
const DefaultRawPerKey = 64

// Options configures aggregation behavior
type Options struct {
	// ShowRaw retains raw edges next to their aggregate
	ShowRaw bool
	// RawPerKey caps retained raw edges per aggregate; oldest are dropped
	RawPerKey int
	// CountLimit saturates aggregate counts; 0 means math.MaxUint64
	CountLimit uint64
}

// DropReason names why a delta had no effect
type DropReason string

const (
	DropUnknownNode DropReason = "unknown_node"
	DropUnknownEdge DropReason = "unknown_edge"
	DropOrphanEdge  DropReason = "orphan_edge"
)

// EffectKind describes what an applied delta did
type EffectKind string

const (
	EffectNodeCreated     EffectKind = "node_created"
	EffectNodeUpdated     EffectKind = "node_updated"
	EffectNodeResurrected EffectKind = "node_resurrected"
	EffectNodeRemoved     EffectKind = "node_removed"
	EffectEdgeCreated     EffectKind = "edge_created"
	EffectEdgeAggregated  EffectKind = "edge_aggregated"
	EffectEdgeRemoved     EffectKind = "edge_removed"
	EffectBatch           EffectKind = "batch"
	EffectNoop            EffectKind = "noop"
	EffectDropped         EffectKind = "dropped"
)

// Effect is the result of applying one delta
type Effect struct {
	Kind   EffectKind      `json:"kind"`
	Seq    uint64          `json:"seq"`
	Node   domain.GlobalID `json:"node,omitzero"`
	Edge   domain.AggKey   `json:"edge,omitzero"`
	Reason DropReason      `json:"reason,omitempty"`
}

// Applied reports whether the delta changed the graph
func (e Effect) Applied() bool {
	switch e.Kind {
	case EffectDropped, EffectNoop, EffectBatch:
		return false
	}
	return true
}

// Recorded reports whether the delta belongs in the timeline
func (e Effect) Recorded() bool {
	return e.Applied() || e.Kind == EffectBatch
}

// Model is the authoritative node and edge store.
//
// Model is single-writer: Apply, Tombstone and Purge must not run
// concurrently with each other or with reads. Reads may run concurrently
// with each other.
type Model struct {
	opts Options

	nodes map[domain.GlobalID]*domain.Node
	edges map[domain.AggKey]*domain.AggEdge
	raw   map[domain.AggKey][]domain.RawEdge
	adj   map[domain.GlobalID][]domain.AdjRef

	expiry *expiryIndex
	graves *expiryIndex

	seq     uint64
	version uint64
	dropped map[DropReason]uint64

	healed   atomic.Uint64
	danglyMu sync.Mutex
	dangling map[domain.GlobalID]bool
}

// New creates an empty model
func New(opts Options) *Model {
	if opts.RawPerKey <= 0 {
		opts.RawPerKey = DefaultRawPerKey
	}
	if opts.CountLimit == 0 {
		opts.CountLimit = math.MaxUint64
	}
	m := &Model{
		opts:     opts,
		nodes:    make(map[domain.GlobalID]*domain.Node),
		edges:    make(map[domain.AggKey]*domain.AggEdge),
		raw:      make(map[domain.AggKey][]domain.RawEdge),
		adj:      make(map[domain.GlobalID][]domain.AdjRef),
		dropped:  make(map[DropReason]uint64),
		dangling: make(map[domain.GlobalID]bool),
	}
	m.expiry = newExpiryIndex(m.activeSince)
	m.graves = newExpiryIndex(m.removedSince)
	return m
}

// SetOptions changes aggregation behavior. Raw edges already retained are
// dropped when raw mode is switched off.
func (m *Model) SetOptions(opts Options) {
	if opts.RawPerKey <= 0 {
		opts.RawPerKey = DefaultRawPerKey
	}
	if opts.CountLimit == 0 {
		opts.CountLimit = math.MaxUint64
	}
	if !opts.ShowRaw {
		m.raw = make(map[domain.AggKey][]domain.RawEdge)
	}
	m.opts = opts
}

// Options returns the current aggregation options
func (m *Model) Options() Options {
	return m.opts
}

// Apply mutates the graph for one delta. It never fails: deltas that
// reference unknown targets are counted and ignored.
func (m *Model) Apply(in domain.Incoming) Effect {
	m.repair()
	m.seq++
	seq := m.seq

	var eff Effect
	switch d := in.Delta.(type) {
	case domain.UpsertNode:
		eff = m.upsertNode(in, d, seq)
	case domain.RemoveNode:
		eff = m.removeNode(in, d, seq)
	case domain.UpsertEdge:
		eff = m.upsertEdge(in, d, seq)
	case domain.RemoveEdge:
		eff = m.removeEdge(in, d, seq)
	case domain.BatchOpen, domain.BatchClose:
		eff = Effect{Kind: EffectBatch}
	default:
		eff = Effect{Kind: EffectNoop}
	}

	eff.Seq = seq
	if eff.Kind == EffectDropped {
		m.dropped[eff.Reason]++
	}
	if eff.Applied() {
		m.version++
	}
	return eff
}

func (m *Model) upsertNode(in domain.Incoming, d domain.UpsertNode, seq uint64) Effect {
	id := in.Global(d.ID)
	n, ok := m.nodes[id]
	if !ok {
		n = &domain.Node{
			ID:        id,
			Kind:      d.Kind,
			Attrs:     copyAttrs(d.Attrs),
			FirstSeen: in.At,
			LastSeen:  in.At,
			LastSeq:   seq,
		}
		m.nodes[id] = n
		m.expiry.track(id, in.At)
		return Effect{Kind: EffectNodeCreated, Node: id}
	}

	kind := EffectNodeUpdated
	if n.RemovedAt != nil {
		n.RemovedAt = nil
		m.graves.forget(id)
		kind = EffectNodeResurrected
	}
	if d.Kind != "" {
		n.Kind = d.Kind
	}
	if len(d.Attrs) > 0 {
		if n.Attrs == nil {
			n.Attrs = make(map[string]string, len(d.Attrs))
		}
		for k, v := range d.Attrs {
			n.Attrs[k] = v
		}
	}
	m.touch(n, in.At, seq)
	m.expiry.track(id, n.LastSeen)
	return Effect{Kind: kind, Node: id}
}

func (m *Model) removeNode(in domain.Incoming, d domain.RemoveNode, seq uint64) Effect {
	id := in.Global(d.ID)
	n, ok := m.nodes[id]
	if !ok {
		return Effect{Kind: EffectDropped, Node: id, Reason: DropUnknownNode}
	}
	if n.RemovedAt != nil {
		return Effect{Kind: EffectNoop, Node: id}
	}
	m.tombstone(n, in.At)
	n.LastSeq = seq
	return Effect{Kind: EffectNodeRemoved, Node: id}
}

func (m *Model) upsertEdge(in domain.Incoming, d domain.UpsertEdge, seq uint64) Effect {
	from, to := in.Global(d.From), in.Global(d.To)
	key := domain.AggKey{From: from, To: to, Class: d.Kind.Class()}

	fn, okFrom := m.nodes[from]
	tn, okTo := m.nodes[to]
	if !okFrom || !okTo {
		return Effect{Kind: EffectDropped, Edge: key, Reason: DropOrphanEdge}
	}

	kind := EffectEdgeAggregated
	agg, ok := m.edges[key]
	if !ok {
		agg = &domain.AggEdge{
			Key:  key,
			Kind: d.Kind,
			Stats: domain.EdgeStats{
				FirstTS: in.At,
			},
		}
		m.edges[key] = agg
		m.link(key)
		kind = EffectEdgeCreated
	}
	if agg.Stats.Count < m.opts.CountLimit {
		agg.Stats.Count++
	}
	if in.At.After(agg.Stats.LastTS) {
		agg.Stats.LastTS = in.At
	}
	agg.Kind = d.Kind
	agg.LastPayload = copyAttrs(d.Payload)

	if m.opts.ShowRaw {
		raws := append(m.raw[key], domain.RawEdge{
			From:    from,
			To:      to,
			Kind:    d.Kind,
			Payload: copyAttrs(d.Payload),
			TS:      in.At,
			Seq:     seq,
		})
		if over := len(raws) - m.opts.RawPerKey; over > 0 {
			raws = append(raws[:0:0], raws[over:]...)
		}
		m.raw[key] = raws
	}

	// Edge activity refreshes endpoints but never resurrects them.
	for _, n := range []*domain.Node{fn, tn} {
		if n.RemovedAt == nil {
			m.touch(n, in.At, seq)
		}
	}
	return Effect{Kind: kind, Edge: key}
}

func (m *Model) removeEdge(in domain.Incoming, d domain.RemoveEdge, seq uint64) Effect {
	key := domain.AggKey{From: in.Global(d.From), To: in.Global(d.To), Class: d.Kind.Class()}
	if _, ok := m.edges[key]; !ok {
		return Effect{Kind: EffectDropped, Edge: key, Reason: DropUnknownEdge}
	}
	m.dropEdge(key)
	for _, id := range []domain.GlobalID{key.From, key.To} {
		if n, ok := m.nodes[id]; ok {
			n.LastSeq = seq
		}
	}
	return Effect{Kind: EffectEdgeRemoved, Edge: key}
}

// touch bumps recency without moving LastSeen backwards
func (m *Model) touch(n *domain.Node, at time.Time, seq uint64) {
	if at.After(n.LastSeen) {
		n.LastSeen = at
	}
	n.LastSeq = seq
}

func (m *Model) tombstone(n *domain.Node, at time.Time) {
	t := at
	n.RemovedAt = &t
	m.expiry.forget(n.ID)
	m.graves.track(n.ID, at)
}

// link adds the edge to both endpoint adjacency lists. A self-loop is
// listed once.
func (m *Model) link(key domain.AggKey) {
	m.adj[key.From] = append(m.adj[key.From], domain.AdjRef{Key: key, Dir: domain.DirOut})
	if key.To != key.From {
		m.adj[key.To] = append(m.adj[key.To], domain.AdjRef{Key: key, Dir: domain.DirIn})
	}
}

func (m *Model) unlink(id domain.GlobalID, key domain.AggKey) {
	refs := m.adj[id]
	for i, r := range refs {
		if r.Key == key {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(m.adj, id)
		return
	}
	m.adj[id] = refs
}

func (m *Model) dropEdge(key domain.AggKey) {
	delete(m.edges, key)
	delete(m.raw, key)
	m.unlink(key.From, key)
	if key.To != key.From {
		m.unlink(key.To, key)
	}
}

// Tombstone marks an active node removed at the given time. It reports
// whether the node changed.
func (m *Model) Tombstone(id domain.GlobalID, at time.Time) bool {
	n, ok := m.nodes[id]
	if !ok || n.RemovedAt != nil {
		return false
	}
	m.tombstone(n, at)
	m.version++
	return true
}

// Purge frees a node with every incident edge and adjacency reference.
func (m *Model) Purge(id domain.GlobalID) bool {
	if _, ok := m.nodes[id]; !ok {
		return false
	}
	refs := append([]domain.AdjRef(nil), m.adj[id]...)
	for _, r := range refs {
		m.dropEdge(r.Key)
	}
	delete(m.adj, id)
	delete(m.nodes, id)
	m.expiry.forget(id)
	m.graves.forget(id)
	m.version++
	return true
}

// ExpiredBefore returns active nodes last seen at or before cutoff, oldest
// first. Skipped nodes stay indexed.
func (m *Model) ExpiredBefore(cutoff time.Time, skip func(domain.GlobalID) bool) []domain.GlobalID {
	return m.expiry.due(cutoff, skip)
}

// GravesBefore returns tombstoned nodes removed at or before cutoff, oldest
// first. Skipped nodes stay indexed.
func (m *Model) GravesBefore(cutoff time.Time, skip func(domain.GlobalID) bool) []domain.GlobalID {
	return m.graves.due(cutoff, skip)
}

func (m *Model) activeSince(id domain.GlobalID) (time.Time, bool) {
	n, ok := m.nodes[id]
	if !ok || n.RemovedAt != nil {
		return time.Time{}, false
	}
	return n.LastSeen, true
}

func (m *Model) removedSince(id domain.GlobalID) (time.Time, bool) {
	n, ok := m.nodes[id]
	if !ok || n.RemovedAt == nil {
		return time.Time{}, false
	}
	return *n.RemovedAt, true
}

// Node returns a copy of the node
func (m *Model) Node(id domain.GlobalID) (domain.Node, bool) {
	n, ok := m.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return n.Clone(), true
}

// Has reports whether the node exists, tombstoned or not
func (m *Model) Has(id domain.GlobalID) bool {
	_, ok := m.nodes[id]
	return ok
}

// Edge returns a copy of an aggregated edge
func (m *Model) Edge(key domain.AggKey) (domain.AggEdge, bool) {
	e, ok := m.edges[key]
	if !ok {
		return domain.AggEdge{}, false
	}
	c := *e
	c.LastPayload = copyAttrs(e.LastPayload)
	return c, true
}

// Adjacency returns the node's live adjacency references in insertion order
func (m *Model) Adjacency(id domain.GlobalID) []domain.AdjRef {
	refs := m.adj[id]
	out := make([]domain.AdjRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := m.edges[r.Key]; !ok {
			m.markDangling(id)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Degree returns the number of adjacency references of the node
func (m *Model) Degree(id domain.GlobalID) int {
	return len(m.adj[id])
}

// Neighbors returns distinct adjacent nodes in adjacency order. Cost is
// proportional to the node's degree.
func (m *Model) Neighbors(id domain.GlobalID) []domain.GlobalID {
	refs := m.Adjacency(id)
	seen := make(map[domain.GlobalID]bool, len(refs))
	out := make([]domain.GlobalID, 0, len(refs))
	for _, r := range refs {
		other := r.Key.Other(id)
		if seen[other] {
			continue
		}
		seen[other] = true
		out = append(out, other)
	}
	return out
}

// EdgesFor returns the aggregated edges touching the node. With raw set and
// raw retention enabled, each view also carries its retained raw edges.
func (m *Model) EdgesFor(id domain.GlobalID, raw bool) []domain.EdgeView {
	refs := m.Adjacency(id)
	out := make([]domain.EdgeView, 0, len(refs))
	for _, r := range refs {
		agg, _ := m.Edge(r.Key)
		v := domain.EdgeView{AggEdge: agg, Dir: r.Dir}
		if raw && m.opts.ShowRaw {
			v.Raw = append([]domain.RawEdge(nil), m.raw[r.Key]...)
		}
		out = append(out, v)
	}
	return out
}

// ForEachNode calls fn for every node until it returns false. Iteration
// order is unspecified.
func (m *Model) ForEachNode(fn func(*domain.Node) bool) {
	for _, n := range m.nodes {
		if !fn(n) {
			return
		}
	}
}

// Search returns nodes whose id or label contains query, case-insensitive,
// ordered by id and capped to limit.
func (m *Model) Search(query string, limit int) []domain.Node {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}
	var hits []*domain.Node
	for _, n := range m.nodes {
		if strings.Contains(strings.ToLower(n.ID.String()), q) ||
			strings.Contains(strings.ToLower(n.Label()), q) {
			hits = append(hits, n)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID.Less(hits[j].ID) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.Node, len(hits))
	for i, n := range hits {
		out[i] = n.Clone()
	}
	return out
}

// Version increases on every mutation
func (m *Model) Version() uint64 {
	return m.version
}

// Seq returns the number of deltas applied
func (m *Model) Seq() uint64 {
	return m.seq
}

// Stats summarizes model size and drop counters
type Stats struct {
	Nodes      int                   `json:"nodes"`
	Tombstoned int                   `json:"tombstoned"`
	Edges      int                   `json:"edges"`
	RawEdges   int                   `json:"raw_edges"`
	Applied    uint64                `json:"applied"`
	Version    uint64                `json:"version"`
	Dropped    map[DropReason]uint64 `json:"dropped"`
	Healed     uint64                `json:"healed"`
}

// Stats returns a summary of the model
func (m *Model) Stats() Stats {
	s := Stats{
		Nodes:      len(m.nodes),
		Tombstoned: m.graves.len(),
		Edges:      len(m.edges),
		Applied:    m.seq,
		Version:    m.version,
		Dropped:    make(map[DropReason]uint64, len(m.dropped)),
		Healed:     m.healed.Load(),
	}
	for _, r := range m.raw {
		s.RawEdges += len(r)
	}
	for k, v := range m.dropped {
		s.Dropped[k] = v
	}
	return s
}

// markDangling records a node whose adjacency list references a missing
// edge. Reads only record it; the next write removes the reference.
func (m *Model) markDangling(id domain.GlobalID) {
	m.danglyMu.Lock()
	m.dangling[id] = true
	m.danglyMu.Unlock()
}

// repair drops adjacency references recorded by markDangling
func (m *Model) repair() {
	m.danglyMu.Lock()
	pending := m.dangling
	if len(pending) > 0 {
		m.dangling = make(map[domain.GlobalID]bool)
	}
	m.danglyMu.Unlock()

	for id := range pending {
		refs := m.adj[id]
		kept := refs[:0]
		for _, r := range refs {
			if _, ok := m.edges[r.Key]; ok {
				kept = append(kept, r)
				continue
			}
			m.healed.Add(1)
		}
		if len(kept) == 0 {
			delete(m.adj, id)
		} else {
			m.adj[id] = kept
		}
	}
}

func copyAttrs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
