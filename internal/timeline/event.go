package timeline

import (
	"time"

	"spacegraph/internal/domain"
)

// PayloadKind names an event payload variant
type PayloadKind string

const (
	PayloadNodeUpserted PayloadKind = "node_upserted"
	PayloadNodeRemoved  PayloadKind = "node_removed"
	PayloadEdgeUpserted PayloadKind = "edge_upserted"
	PayloadEdgeRemoved  PayloadKind = "edge_removed"
	PayloadBatchOpen    PayloadKind = "batch_open"
	PayloadBatchClose   PayloadKind = "batch_close"
)

// Payload is the closed set of things a timeline event can describe
type Payload interface {
	PayloadKind() PayloadKind
	payload()
}

// NodeUpserted records a node creation or refresh
type NodeUpserted struct {
	Node        domain.GlobalID `json:"node"`
	NodeKind    domain.NodeKind `json:"node_kind,omitempty"`
	Created     bool            `json:"created,omitempty"`
	Resurrected bool            `json:"resurrected,omitempty"`
}

// NodeRemoved records a tombstone, explicit or by GC
type NodeRemoved struct {
	Node domain.GlobalID `json:"node"`
	GC   bool            `json:"gc,omitempty"`
}

// EdgeUpserted records one edge occurrence
type EdgeUpserted struct {
	Edge    domain.AggKey   `json:"edge"`
	Kind    domain.EdgeKind `json:"kind"`
	Created bool            `json:"created,omitempty"`
}

// EdgeRemoved records an aggregated edge deletion
type EdgeRemoved struct {
	Edge domain.AggKey `json:"edge"`
}

// BatchOpen records the start of a batch
type BatchOpen struct {
	BatchID string `json:"batch_id"`
}

// BatchClose records the end of a batch
type BatchClose struct {
	BatchID string `json:"batch_id"`
}

func (NodeUpserted) PayloadKind() PayloadKind { return PayloadNodeUpserted }
func (NodeRemoved) PayloadKind() PayloadKind  { return PayloadNodeRemoved }
func (EdgeUpserted) PayloadKind() PayloadKind { return PayloadEdgeUpserted }
func (EdgeRemoved) PayloadKind() PayloadKind  { return PayloadEdgeRemoved }
func (BatchOpen) PayloadKind() PayloadKind    { return PayloadBatchOpen }
func (BatchClose) PayloadKind() PayloadKind   { return PayloadBatchClose }

func (NodeUpserted) payload() {}
func (NodeRemoved) payload()  {}
func (EdgeUpserted) payload() {}
func (EdgeRemoved) payload()  {}
func (BatchOpen) payload()    {}
func (BatchClose) payload()   {}

// Event is one recorded change. Seq is the model's apply sequence, so
// events are ordered by arrival, not by timestamp.
type Event struct {
	Seq     uint64         `json:"seq"`
	TS      time.Time      `json:"ts"`
	Source  domain.NodeKey `json:"source"`
	Payload Payload        `json:"payload"`
}

// Involves reports whether the event concerns the node
func (e Event) Involves(id domain.GlobalID) bool {
	switch p := e.Payload.(type) {
	case NodeUpserted:
		return p.Node == id
	case NodeRemoved:
		return p.Node == id
	case EdgeUpserted:
		return p.Edge.From == id || p.Edge.To == id
	case EdgeRemoved:
		return p.Edge.From == id || p.Edge.To == id
	}
	return false
}
