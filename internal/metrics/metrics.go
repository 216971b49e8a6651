// Package metrics holds the Prometheus instruments of the graph core and
// its ingestion path. Instruments are registered on an injected registry
// so tests and embedders never touch the global one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spacegraph"

// Metrics is the set of instruments
type Metrics struct {
	// DeltasApplied counts deltas by kind that changed the graph
	DeltasApplied *prometheus.CounterVec
	// DeltasDropped counts deltas the model ignored, by reason
	DeltasDropped *prometheus.CounterVec
	// IngestDrops counts raw messages discarded before queueing, by reason
	IngestDrops *prometheus.CounterVec
	// TickDuration measures one drain-and-apply tick
	TickDuration prometheus.Histogram
	// GCActions counts sweep outcomes: tombstoned, purged, held
	GCActions *prometheus.CounterVec
	// ExplainOutcomes counts explain results by status, including cache hits
	ExplainOutcomes *prometheus.CounterVec
	// Nodes, Edges and QueueDepth track current sizes
	Nodes      prometheus.Gauge
	Edges      prometheus.Gauge
	QueueDepth prometheus.Gauge
	// TimelineEvictions counts events pushed out of the ring
	TimelineEvictions prometheus.Counter
	// Sessions tracks open ingestion connections
	Sessions prometheus.Gauge
}

// New registers all instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DeltasApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "deltas_applied_total",
			Help:      "Deltas that changed the graph, by kind",
		}, []string{"kind"}),
		DeltasDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "deltas_dropped_total",
			Help:      "Deltas ignored by the model, by reason",
		}, []string{"reason"}),
		IngestDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_dropped_total",
			Help:      "Raw messages discarded during normalization, by reason",
		}, []string{"reason"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "tick_duration_seconds",
			Help:      "Time spent draining queues and applying deltas",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		GCActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "nodes_total",
			Help:      "Nodes handled by GC sweeps, by action",
		}, []string{"action"}),
		ExplainOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explain",
			Name:      "requests_total",
			Help:      "Explain requests by outcome",
		}, []string{"outcome"}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes currently in the graph, tombstoned included",
		}),
		Edges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "edges",
			Help:      "Aggregated edges currently in the graph",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Messages waiting in all source queues",
		}),
		TimelineEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeline",
			Name:      "evictions_total",
			Help:      "Events evicted from the timeline ring",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sessions",
			Help:      "Open ingestion connections",
		}),
	}
}

// IngestDropped implements ingest.Observer
func (m *Metrics) IngestDropped(reason string) {
	m.IngestDrops.WithLabelValues(reason).Inc()
}

// ObserveTick records a tick duration
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}
