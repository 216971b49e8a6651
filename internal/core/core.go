// Package core owns the truth graph and everything that mutates it.
//
// A Core holds the graph model, the timeline, the pin set, the explain
// cache and the ingest registry behind one read-write lock. Ticks drain
// the ingest queues and apply deltas under the write lock; GC sweeps take
// the same lock on their own cadence; queries take the read lock.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spacegraph/internal/domain"
	"spacegraph/internal/explain"
	"spacegraph/internal/gc"
	"spacegraph/internal/graph"
	"spacegraph/internal/ingest"
	"spacegraph/internal/metrics"
	"spacegraph/internal/timeline"
)

// Options are the tunables of the core. All of them can change at runtime
// through SetOptions.
type Options struct {
	Graph            graph.Options
	GC               gc.Policy
	TimelineCapacity int
	QueueCapacity    int
	QueuePolicy      ingest.Policy
	CacheSize        int
	CacheTTL         time.Duration
}

// Recorder persists applied batches so they can be replayed
type Recorder interface {
	Record(ctx context.Context, tick uint64, batch []domain.Incoming) error
}

// Deps are the collaborators of a core. Every field is optional.
type Deps struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder
	// Notify receives tick and sweep summaries
	Notify func(Summary)
	// Now is the real clock behind the timeline's virtual clock
	Now func() time.Time
}

// SummaryKind distinguishes tick and sweep summaries
type SummaryKind string

const (
	SummaryTick  SummaryKind = "tick"
	SummarySweep SummaryKind = "gc"
)

// Summary describes one tick or sweep
type Summary struct {
	Kind       SummaryKind       `json:"kind"`
	Tick       uint64            `json:"tick"`
	At         time.Time         `json:"at"`
	Drained    int               `json:"drained,omitempty"`
	Applied    int               `json:"applied,omitempty"`
	Dropped    int               `json:"dropped,omitempty"`
	Tombstoned []domain.GlobalID `json:"tombstoned,omitempty"`
	Purged     []domain.GlobalID `json:"purged,omitempty"`
	Held       int               `json:"held,omitempty"`
	Version    uint64            `json:"version"`
}

// Core is the graph engine
type Core struct {
	mu       sync.RWMutex
	opts     Options
	model    *graph.Model
	timeline *timeline.Timeline
	pins     *gc.PinSet
	cache    *explain.Cache
	registry *ingest.Registry

	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	notify   func(Summary)
	tracer   trace.Tracer

	tick    uint64
	evicted uint64
}

// New creates a core
func New(opts Options, deps Deps) *Core {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Core{
		opts:     opts,
		model:    graph.New(opts.Graph),
		timeline: timeline.New(opts.TimelineCapacity, timeline.NewClock(deps.Now)),
		pins:     gc.NewPinSet(),
		cache:    explain.NewCache(opts.CacheSize, opts.CacheTTL),
		registry: ingest.NewRegistry(opts.QueueCapacity, opts.QueuePolicy),
		logger:   deps.Logger.With("component", "core"),
		metrics:  deps.Metrics,
		recorder: deps.Recorder,
		notify:   deps.Notify,
		tracer:   otel.Tracer("spacegraph/core"),
	}
}

// Registry returns the ingest registry feeding this core
func (c *Core) Registry() *ingest.Registry {
	return c.registry
}

// Pins returns the pin set consulted by GC and projection
func (c *Core) Pins() *gc.PinSet {
	return c.pins
}

// Clock returns the timeline's virtual clock
func (c *Core) Clock() *timeline.Clock {
	return c.timeline.Clock()
}

// Options returns the current tunables
func (c *Core) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// SetOptions applies new tunables. Existing state is kept; the timeline
// ring keeps its newest events and queues keep their sequence.
func (c *Core) SetOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.model.SetOptions(opts.Graph)
	if opts.TimelineCapacity != c.opts.TimelineCapacity {
		c.timeline.Resize(opts.TimelineCapacity)
	}
	if opts.CacheSize != c.opts.CacheSize || opts.CacheTTL != c.opts.CacheTTL {
		c.cache.Configure(opts.CacheSize, opts.CacheTTL)
	}
	c.registry.SetLimits(opts.QueueCapacity, opts.QueuePolicy)
	c.opts = opts
	c.logger.Info("options updated",
		"ttl", opts.GC.TTL,
		"grace", opts.GC.Grace,
		"timeline_capacity", opts.TimelineCapacity,
		"show_raw", opts.Graph.ShowRaw)
}

// Tick drains every ingest queue and applies the messages in their total
// order. The applied batch is handed to the recorder, if any.
func (c *Core) Tick(ctx context.Context, now time.Time) Summary {
	batch := c.registry.Drain(now)
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(c.registry.Depth()))
	}
	sum := c.Apply(ctx, now, batch)

	if c.recorder != nil && len(batch) > 0 {
		if err := c.recorder.Record(ctx, sum.Tick, batch); err != nil {
			c.logger.Warn("failed to record batch", "tick", sum.Tick, "error", err)
		}
	}
	return sum
}

// Apply applies an ordered batch as one tick. Replay uses it directly.
func (c *Core) Apply(ctx context.Context, now time.Time, batch []domain.Incoming) Summary {
	_, span := c.tracer.Start(ctx, "core.tick", trace.WithAttributes(attribute.Int("batch", len(batch))))
	defer span.End()
	start := time.Now()

	c.mu.Lock()
	c.tick++
	sum := Summary{Kind: SummaryTick, Tick: c.tick, At: now, Drained: len(batch)}
	for _, in := range batch {
		eff := c.model.Apply(in)
		c.observe(in, eff)
		switch {
		case eff.Kind == graph.EffectDropped:
			sum.Dropped++
		case eff.Applied():
			sum.Applied++
		}
		if eff.Recorded() {
			c.timeline.Record(timeline.Event{
				Seq:     eff.Seq,
				TS:      in.At,
				Source:  in.Source,
				Payload: payloadFor(in.Delta, eff),
			})
		}
	}
	sum.Version = c.model.Version()
	c.updateGauges()
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("applied", sum.Applied), attribute.Int("dropped", sum.Dropped))
	if c.metrics != nil {
		c.metrics.ObserveTick(time.Since(start))
	}
	if sum.Drained > 0 {
		c.publish(sum)
	}
	return sum
}

// Sweep runs one GC pass at now. Tombstones are recorded on the timeline.
func (c *Core) Sweep(ctx context.Context, now time.Time) Summary {
	_, span := c.tracer.Start(ctx, "core.sweep")
	defer span.End()

	c.mu.Lock()
	res := gc.Sweep(c.model, now, c.opts.GC, c.pins)
	seq := c.model.Seq()
	for _, id := range res.Tombstoned {
		c.timeline.Record(timeline.Event{
			Seq:     seq,
			TS:      now,
			Source:  id.Key,
			Payload: timeline.NodeRemoved{Node: id, GC: true},
		})
	}
	sum := Summary{
		Kind:       SummarySweep,
		Tick:       c.tick,
		At:         now,
		Tombstoned: res.Tombstoned,
		Purged:     res.Purged,
		Held:       res.Held,
		Version:    c.model.Version(),
	}
	c.updateGauges()
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("tombstoned", len(res.Tombstoned)),
		attribute.Int("purged", len(res.Purged)),
		attribute.Int("held", res.Held))
	if c.metrics != nil {
		c.metrics.GCActions.WithLabelValues("tombstoned").Add(float64(len(res.Tombstoned)))
		c.metrics.GCActions.WithLabelValues("purged").Add(float64(len(res.Purged)))
		c.metrics.GCActions.WithLabelValues("held").Add(float64(res.Held))
	}
	if !res.Empty() {
		c.logger.Debug("gc sweep", "tombstoned", len(res.Tombstoned), "purged", len(res.Purged), "held", res.Held)
		c.publish(sum)
	}
	return sum
}

func (c *Core) publish(sum Summary) {
	if c.notify != nil {
		c.notify(sum)
	}
}

// observe feeds counters for one effect. Caller holds the write lock.
func (c *Core) observe(in domain.Incoming, eff graph.Effect) {
	if c.metrics == nil {
		return
	}
	switch {
	case eff.Kind == graph.EffectDropped:
		c.metrics.DeltasDropped.WithLabelValues(string(eff.Reason)).Inc()
	case eff.Applied():
		c.metrics.DeltasApplied.WithLabelValues(string(in.Delta.DeltaKind())).Inc()
	}
}

// updateGauges refreshes size gauges. Caller holds the write lock.
func (c *Core) updateGauges() {
	if c.metrics == nil {
		return
	}
	st := c.model.Stats()
	c.metrics.Nodes.Set(float64(st.Nodes))
	c.metrics.Edges.Set(float64(st.Edges))
	if ev := c.timeline.Evicted(); ev > c.evicted {
		c.metrics.TimelineEvictions.Add(float64(ev - c.evicted))
		c.evicted = ev
	}
}

// payloadFor describes an applied delta on the timeline
func payloadFor(d domain.Delta, eff graph.Effect) timeline.Payload {
	switch v := d.(type) {
	case domain.UpsertNode:
		return timeline.NodeUpserted{
			Node:        eff.Node,
			NodeKind:    v.Kind,
			Created:     eff.Kind == graph.EffectNodeCreated,
			Resurrected: eff.Kind == graph.EffectNodeResurrected,
		}
	case domain.RemoveNode:
		return timeline.NodeRemoved{Node: eff.Node}
	case domain.UpsertEdge:
		return timeline.EdgeUpserted{Edge: eff.Edge, Kind: v.Kind, Created: eff.Kind == graph.EffectEdgeCreated}
	case domain.RemoveEdge:
		return timeline.EdgeRemoved{Edge: eff.Edge}
	case domain.BatchOpen:
		return timeline.BatchOpen{BatchID: v.BatchID}
	case domain.BatchClose:
		return timeline.BatchClose{BatchID: v.BatchID}
	}
	return nil
}
