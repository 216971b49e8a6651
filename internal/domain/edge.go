package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// EdgeKind represents the relation reported by a source
type EdgeKind string

const (
	EdgeKindOpens    EdgeKind = "opens"
	EdgeKindExecs    EdgeKind = "execs"
	EdgeKindRunsAs   EdgeKind = "runs_as"
	EdgeKindParentOf EdgeKind = "parent_of"
	EdgeKindRunsOn   EdgeKind = "runs_on"
	EdgeKindContains EdgeKind = "contains"
)

// EdgeKinds lists every valid kind
var EdgeKinds = []EdgeKind{
	EdgeKindOpens, EdgeKindExecs, EdgeKindRunsAs,
	EdgeKindParentOf, EdgeKindRunsOn, EdgeKindContains,
}

// ParseEdgeKind validates a wire kind string
func ParseEdgeKind(s string) (EdgeKind, error) {
	for _, k := range EdgeKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// EdgeClass is the aggregation class of an edge kind. Kind-specific
// details such as an fd or open mode live in the payload, so edges that
// differ only in payload collapse into one class.
type EdgeClass string

// Class returns the aggregation class for the kind
func (k EdgeKind) Class() EdgeClass {
	return EdgeClass(k)
}

// AggKey identifies an aggregated edge. Direction matters.
type AggKey struct {
	From  GlobalID  `json:"from"`
	To    GlobalID  `json:"to"`
	Class EdgeClass `json:"class"`
}

// Compare orders keys by from, to, then class.
func (k AggKey) Compare(other AggKey) int {
	if c := k.From.Compare(other.From); c != 0 {
		return c
	}
	if c := k.To.Compare(other.To); c != 0 {
		return c
	}
	return strings.Compare(string(k.Class), string(other.Class))
}

// Other returns the endpoint opposite to id.
func (k AggKey) Other(id GlobalID) GlobalID {
	if k.From == id {
		return k.To
	}
	return k.From
}

// ID creates a short deterministic identifier for the key
func (k AggKey) ID() string {
	key := fmt.Sprintf("%s|%s|%s", k.From, k.To, k.Class)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash[:8])
}

// RawEdge is a single reported relation
type RawEdge struct {
	From    GlobalID          `json:"from"`
	To      GlobalID          `json:"to"`
	Kind    EdgeKind          `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
	TS      time.Time         `json:"ts"`
	Seq     uint64            `json:"seq"`
}

// Key returns the aggregation key of the edge
func (e RawEdge) Key() AggKey {
	return AggKey{From: e.From, To: e.To, Class: e.Kind.Class()}
}

// EdgeStats summarizes the raw edges absorbed into an aggregate
type EdgeStats struct {
	Count   uint64    `json:"count"`
	FirstTS time.Time `json:"first_ts"`
	LastTS  time.Time `json:"last_ts"`
}

// AggEdge collapses raw edges of one class between one ordered pair
type AggEdge struct {
	Key         AggKey            `json:"key"`
	Kind        EdgeKind          `json:"kind"`
	Stats       EdgeStats         `json:"stats"`
	LastPayload map[string]string `json:"last_payload,omitempty"`
}

// Direction is the side of an edge seen from one endpoint
type Direction string

const (
	DirOut Direction = "out"
	DirIn  Direction = "in"
)

// AdjRef is one entry of a node's adjacency list
type AdjRef struct {
	Key AggKey    `json:"key"`
	Dir Direction `json:"dir"`
}

// EdgeView is what edge queries return: the aggregate, and the raw edges
// when raw retention is enabled.
type EdgeView struct {
	AggEdge
	Dir Direction `json:"dir"`
	Raw []RawEdge `json:"raw,omitempty"`
}
