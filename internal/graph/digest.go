package graph

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"

	"spacegraph/internal/domain"
)

// Digest returns a hash of the node set, aggregate stats and adjacency
// lists. Two models that applied the same ordered deltas have equal
// digests.
func (m *Model) Digest() string {
	h := sha256.New()

	ids := make([]domain.GlobalID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	for _, id := range ids {
		n := m.nodes[id]
		fmt.Fprintf(h, "n|%s|%s|%d|%d|%d|", id, n.Kind, n.FirstSeen.UnixNano(), n.LastSeen.UnixNano(), n.LastSeq)
		if n.RemovedAt != nil {
			fmt.Fprintf(h, "%d", n.RemovedAt.UnixNano())
		}
		writeAttrs(h, n.Attrs)
		for _, r := range m.adj[id] {
			fmt.Fprintf(h, "a|%s|%s\n", r.Key.ID(), r.Dir)
		}
	}

	keys := make([]domain.AggKey, 0, len(m.edges))
	for k := range m.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	for _, k := range keys {
		e := m.edges[k]
		fmt.Fprintf(h, "e|%s|%s|%s|%s|%d|%d|%d|", k.From, k.To, k.Class, e.Kind,
			e.Stats.Count, e.Stats.FirstTS.UnixNano(), e.Stats.LastTS.UnixNano())
		writeAttrs(h, e.LastPayload)
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

func writeAttrs(w io.Writer, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s;", k, attrs[k])
	}
	io.WriteString(w, "\n")
}
