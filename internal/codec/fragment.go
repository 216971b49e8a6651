package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"spacegraph/internal/domain"
)

// FragmentCodec reads and writes fragment documents shaped like a snapshot
// body, so an exported file can be imported back or replayed by an agent
type FragmentCodec struct {
	format string
	decode func(io.Reader, *SnapshotData) error
	encode func(io.Writer, SnapshotData) error
}

var (
	jsonFragments = &FragmentCodec{
		format: "json",
		decode: func(r io.Reader, s *SnapshotData) error { return json.NewDecoder(r).Decode(s) },
		encode: func(w io.Writer, s SnapshotData) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
	yamlFragments = &FragmentCodec{
		format: "yaml",
		decode: func(r io.Reader, s *SnapshotData) error { return yaml.NewDecoder(r).Decode(s) },
		encode: func(w io.Writer, s SnapshotData) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return err
			}
			return enc.Close()
		},
	}
)

func (c *FragmentCodec) Format() string { return c.format }

// Parse decodes and validates one document. Validation failures wrap
// ErrInvalid.
func (c *FragmentCodec) Parse(r io.Reader) (*domain.GraphFragment, error) {
	var snap SnapshotData
	if err := c.decode(r, &snap); err != nil {
		return nil, fmt.Errorf("decode %s fragment: %w", c.format, err)
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}
	return snap.Fragment(), nil
}

// Export writes fragment as one document
func (c *FragmentCodec) Export(fragment *domain.GraphFragment, w io.Writer) error {
	if err := c.encode(w, snapshotOf(fragment)); err != nil {
		return fmt.Errorf("encode %s fragment: %w", c.format, err)
	}
	return nil
}

func snapshotOf(fragment *domain.GraphFragment) SnapshotData {
	snap := SnapshotData{
		Nodes: make([]NodeData, 0, len(fragment.Nodes)),
		Edges: make([]EdgeData, 0, len(fragment.Edges)),
	}
	for _, n := range fragment.Nodes {
		snap.Nodes = append(snap.Nodes, NodeData{ID: string(n.ID), Kind: string(n.Kind), Attrs: n.Attrs})
	}
	for _, e := range fragment.Edges {
		snap.Edges = append(snap.Edges, EdgeData{From: string(e.From), To: string(e.To), Kind: string(e.Kind), Payload: e.Payload})
	}
	return snap
}
