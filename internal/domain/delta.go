package domain

import "time"

// DeltaKind names a delta variant
type DeltaKind string

const (
	DeltaUpsertNode DeltaKind = "upsert_node"
	DeltaRemoveNode DeltaKind = "remove_node"
	DeltaUpsertEdge DeltaKind = "upsert_edge"
	DeltaRemoveEdge DeltaKind = "remove_edge"
	DeltaBatchOpen  DeltaKind = "batch_open"
	DeltaBatchClose DeltaKind = "batch_close"
)

// Delta is a single graph mutation. The set of variants is closed: only
// types in this package implement it, and consumers switch over them.
//
// Ids inside a delta are local to the source that sent it; the source key
// travels on the enclosing Incoming.
type Delta interface {
	DeltaKind() DeltaKind
	delta()
}

// UpsertNode creates a node or refreshes an existing one
type UpsertNode struct {
	ID    LocalID           `json:"id"`
	Kind  NodeKind          `json:"kind"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// RemoveNode tombstones a node
type RemoveNode struct {
	ID LocalID `json:"id"`
}

// UpsertEdge reports one occurrence of a relation
type UpsertEdge struct {
	From    LocalID           `json:"from"`
	To      LocalID           `json:"to"`
	Kind    EdgeKind          `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

// RemoveEdge deletes an aggregated edge
type RemoveEdge struct {
	From LocalID  `json:"from"`
	To   LocalID  `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// BatchOpen marks the start of a group of related deltas
type BatchOpen struct {
	BatchID string `json:"batch_id"`
}

// BatchClose marks the end of a group of related deltas
type BatchClose struct {
	BatchID string `json:"batch_id"`
}

func (UpsertNode) DeltaKind() DeltaKind { return DeltaUpsertNode }
func (RemoveNode) DeltaKind() DeltaKind { return DeltaRemoveNode }
func (UpsertEdge) DeltaKind() DeltaKind { return DeltaUpsertEdge }
func (RemoveEdge) DeltaKind() DeltaKind { return DeltaRemoveEdge }
func (BatchOpen) DeltaKind() DeltaKind  { return DeltaBatchOpen }
func (BatchClose) DeltaKind() DeltaKind { return DeltaBatchClose }

func (UpsertNode) delta() {}
func (RemoveNode) delta() {}
func (UpsertEdge) delta() {}
func (RemoveEdge) delta() {}
func (BatchOpen) delta()  {}
func (BatchClose) delta() {}

// Incoming is a normalized delta tagged with its source.
type Incoming struct {
	Source NodeKey `json:"source"`
	// Seq is the per-source arrival sequence, assigned by the ingest queue
	Seq uint64 `json:"seq"`
	// At is the ingest timestamp; the model uses it instead of the wall clock
	At    time.Time `json:"at"`
	Delta Delta     `json:"-"`
}

// Global scopes a local id to the incoming source
func (in Incoming) Global(local LocalID) GlobalID {
	return GlobalID{Key: in.Source, Local: local}
}

// Identity is the handshake record binding a connection to a source
type Identity struct {
	NodeKey NodeKey `json:"node_key" yaml:"node_key" validate:"required,excludes=/"`
	Host    string  `json:"host,omitempty" yaml:"host,omitempty"`
	OS      string  `json:"os,omitempty" yaml:"os,omitempty"`
	Arch    string  `json:"arch,omitempty" yaml:"arch,omitempty"`
	Version string  `json:"version,omitempty" yaml:"version,omitempty"`
}
