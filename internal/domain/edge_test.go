package domain

import (
	"errors"
	"testing"
)

func TestGlobalID(t *testing.T) {
	t.Run("same local id in two namespaces differs", func(t *testing.T) {
		a := NewGlobalID("host-a", "42")
		b := NewGlobalID("host-b", "42")
		if a == b {
			t.Error("expected distinct ids")
		}
		if a.Compare(b) >= 0 {
			t.Error("expected host-a to sort first")
		}
	})

	t.Run("string round trip keeps slashes in local part", func(t *testing.T) {
		id := NewGlobalID("host-a", "file:/etc/passwd")
		parsed, err := ParseGlobalID(id.String())
		if err != nil {
			t.Fatalf("ParseGlobalID() error: %v", err)
		}
		if parsed != id {
			t.Errorf("got %v, want %v", parsed, id)
		}
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, s := range []string{"", "nolocal", "/x", "key/"} {
			if _, err := ParseGlobalID(s); !errors.Is(err, ErrInvalidID) {
				t.Errorf("ParseGlobalID(%q) error = %v, want ErrInvalidID", s, err)
			}
		}
	})

	t.Run("node keys cannot contain separator", func(t *testing.T) {
		if ValidNodeKey("a/b") {
			t.Error("expected a/b to be invalid")
		}
		if !ValidNodeKey("host-a") {
			t.Error("expected host-a to be valid")
		}
	})
}

func TestAggKey(t *testing.T) {
	p := NewGlobalID("h", "p1")
	f := NewGlobalID("h", "f1")

	t.Run("generates consistent ID", func(t *testing.T) {
		k1 := AggKey{From: p, To: f, Class: EdgeKindOpens.Class()}
		k2 := AggKey{From: p, To: f, Class: EdgeKindOpens.Class()}
		if k1.ID() != k2.ID() {
			t.Error("expected same key to generate same ID")
		}
	})

	t.Run("direction is significant", func(t *testing.T) {
		k1 := AggKey{From: p, To: f, Class: "opens"}
		k2 := AggKey{From: f, To: p, Class: "opens"}
		if k1.ID() == k2.ID() {
			t.Error("expected reversed endpoints to generate different IDs")
		}
	})

	t.Run("other endpoint", func(t *testing.T) {
		k := AggKey{From: p, To: f, Class: "opens"}
		if k.Other(p) != f || k.Other(f) != p {
			t.Error("Other() returned wrong endpoint")
		}
	})

	t.Run("raw edge key uses class", func(t *testing.T) {
		e := RawEdge{From: p, To: f, Kind: EdgeKindRunsAs}
		if e.Key().Class != EdgeClass("runs_as") {
			t.Errorf("Class = %s", e.Key().Class)
		}
	})
}

func TestGraphFragmentDeltas(t *testing.T) {
	frag := NewGraphFragment()
	frag.AddNode(UpsertNode{ID: "p1", Kind: NodeKindProcess})
	frag.AddEdge(UpsertEdge{From: "p1", To: "p1", Kind: EdgeKindExecs})

	deltas := frag.Deltas("snap-1")
	if len(deltas) != 4 {
		t.Fatalf("len = %d, want 4", len(deltas))
	}
	want := []DeltaKind{DeltaBatchOpen, DeltaUpsertNode, DeltaUpsertEdge, DeltaBatchClose}
	for i, d := range deltas {
		if d.DeltaKind() != want[i] {
			t.Errorf("deltas[%d] = %s, want %s", i, d.DeltaKind(), want[i])
		}
	}
	if open, ok := deltas[0].(BatchOpen); !ok || open.BatchID != "snap-1" {
		t.Errorf("unexpected open marker %#v", deltas[0])
	}
}
