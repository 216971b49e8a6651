package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"spacegraph/internal/domain"
)

// Message types carried in the outer envelope
const (
	MsgHello    = "hello"
	MsgIdentity = "identity"
	MsgSnapshot = "snapshot"
	MsgEvent    = "event"
	MsgPing     = "ping"
	MsgPong     = "pong"
)

var (
	// ErrDecode is returned for bytes that are not a well-formed envelope
	ErrDecode = errors.New("decode")
	// ErrInvalid is returned when a decoded message fails validation
	ErrInvalid = errors.New("invalid")
	// ErrUnknownType is returned for an unrecognized message or delta type
	ErrUnknownType = errors.New("unknown type")
)

// wireValidate checks decoded wire structs. Kind enums are registered as
// custom tags so the accepted set follows the domain lists.
var wireValidate *validator.Validate

func init() {
	wireValidate = validator.New(validator.WithRequiredStructEnabled())

	_ = wireValidate.RegisterValidation("nodekind", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseNodeKind(fl.Field().String())
		return err == nil
	})
	_ = wireValidate.RegisterValidation("edgekind", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseEdgeKind(fl.Field().String())
		return err == nil
	})
	_ = wireValidate.RegisterValidation("nodekey", func(fl validator.FieldLevel) bool {
		return domain.ValidNodeKey(domain.NodeKey(fl.Field().String()))
	})
}

// Validate runs struct validation with the wire rules
func Validate(v any) error {
	if err := wireValidate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Envelope is the outer frame of every message: {"type": ..., "data": ...}
type Envelope struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloData opens a connection
type HelloData struct {
	Version string `json:"version"`
}

// IdentityData binds a connection to a source
type IdentityData struct {
	NodeKey string          `json:"node_key" validate:"required,nodekey"`
	Host    string          `json:"host,omitempty"`
	OS      string          `json:"os,omitempty"`
	Arch    string          `json:"arch,omitempty"`
	Version string          `json:"version,omitempty"`
	Caps    map[string]bool `json:"caps,omitempty"`
}

// Identity converts to the domain handshake record
func (d IdentityData) Identity() domain.Identity {
	return domain.Identity{
		NodeKey: domain.NodeKey(d.NodeKey),
		Host:    d.Host,
		OS:      d.OS,
		Arch:    d.Arch,
		Version: d.Version,
	}
}

// NodeData is the body of upsert_node. NS, when set, must name the
// sending source.
type NodeData struct {
	ID    string            `json:"id" yaml:"id" validate:"required"`
	Kind  string            `json:"kind" yaml:"kind" validate:"required,nodekind"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	NS    string            `json:"ns,omitempty" yaml:"ns,omitempty"`
}

// RemoveNodeData is the body of remove_node
type RemoveNodeData struct {
	ID string `json:"id" validate:"required"`
	NS string `json:"ns,omitempty"`
}

// EdgeData is the body of upsert_edge and remove_edge
type EdgeData struct {
	From    string            `json:"from" yaml:"from" validate:"required"`
	To      string            `json:"to" yaml:"to" validate:"required"`
	Kind    string            `json:"kind" yaml:"kind" validate:"required,edgekind"`
	Payload map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
	NS      string            `json:"ns,omitempty" yaml:"ns,omitempty"`
}

// BatchData is the body of batch_open and batch_close
type BatchData struct {
	BatchID string `json:"batch_id" validate:"required"`
	NS      string `json:"ns,omitempty"`
}

// SnapshotData carries a full view of one source
type SnapshotData struct {
	Nodes []NodeData `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges []EdgeData `json:"edges" yaml:"edges" validate:"dive"`
}

// Fragment converts the snapshot to a graph fragment
func (s SnapshotData) Fragment() *domain.GraphFragment {
	frag := domain.NewGraphFragment()
	for _, n := range s.Nodes {
		frag.AddNode(n.delta())
	}
	for _, e := range s.Edges {
		frag.AddEdge(e.upsert())
	}
	return frag
}

// EventData wraps one delta envelope
type EventData struct {
	Delta Envelope `json:"delta" validate:"required"`
}

func (n NodeData) delta() domain.UpsertNode {
	return domain.UpsertNode{ID: domain.LocalID(n.ID), Kind: domain.NodeKind(n.Kind), Attrs: n.Attrs}
}

func (e EdgeData) upsert() domain.UpsertEdge {
	return domain.UpsertEdge{
		From:    domain.LocalID(e.From),
		To:      domain.LocalID(e.To),
		Kind:    domain.EdgeKind(e.Kind),
		Payload: e.Payload,
	}
}

// DecodeEnvelope parses the outer frame
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := Validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeData parses and validates an envelope body into v
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: missing data", ErrInvalid, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, env.Type, err)
	}
	return Validate(v)
}

// DecodeDelta converts a delta envelope into a domain delta. The returned
// namespace is the explicit ns field, empty when absent.
func DecodeDelta(env Envelope) (domain.Delta, string, error) {
	switch domain.DeltaKind(env.Type) {
	case domain.DeltaUpsertNode:
		var d NodeData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return d.delta(), d.NS, nil
	case domain.DeltaRemoveNode:
		var d RemoveNodeData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return domain.RemoveNode{ID: domain.LocalID(d.ID)}, d.NS, nil
	case domain.DeltaUpsertEdge:
		var d EdgeData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return d.upsert(), d.NS, nil
	case domain.DeltaRemoveEdge:
		var d EdgeData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return domain.RemoveEdge{From: domain.LocalID(d.From), To: domain.LocalID(d.To), Kind: domain.EdgeKind(d.Kind)}, d.NS, nil
	case domain.DeltaBatchOpen:
		var d BatchData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return domain.BatchOpen{BatchID: d.BatchID}, d.NS, nil
	case domain.DeltaBatchClose:
		var d BatchData
		if err := DecodeData(env, &d); err != nil {
			return nil, "", err
		}
		return domain.BatchClose{BatchID: d.BatchID}, d.NS, nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// EncodeDelta converts a domain delta into its envelope
func EncodeDelta(d domain.Delta) (Envelope, error) {
	var body any
	switch v := d.(type) {
	case domain.UpsertNode:
		body = NodeData{ID: string(v.ID), Kind: string(v.Kind), Attrs: v.Attrs}
	case domain.RemoveNode:
		body = RemoveNodeData{ID: string(v.ID)}
	case domain.UpsertEdge:
		body = EdgeData{From: string(v.From), To: string(v.To), Kind: string(v.Kind), Payload: v.Payload}
	case domain.RemoveEdge:
		body = EdgeData{From: string(v.From), To: string(v.To), Kind: string(v.Kind)}
	case domain.BatchOpen:
		body = BatchData{BatchID: v.BatchID}
	case domain.BatchClose:
		body = BatchData{BatchID: v.BatchID}
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownType, d)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", d.DeltaKind(), err)
	}
	return Envelope{Type: string(d.DeltaKind()), Data: data}, nil
}

// Encode builds an envelope from a typed body
func Encode(msgType string, body any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msgType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
