package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacegraph/internal/domain"
)

type countingObserver map[string]int

func (c countingObserver) IngestDropped(reason string) { c[reason]++ }

func newTestSession(t *testing.T, connID string) (*Session, *Registry, countingObserver) {
	t.Helper()
	reg := NewRegistry(64, PolicyDropOldest)
	obs := countingObserver{}
	s := NewSession(connID, reg, SessionOptions{
		MaxMessageSize: 512,
		Observer:       obs,
		Now:            func() time.Time { return t0 },
	})
	return s, reg, obs
}

func send(t *testing.T, s *Session, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		_, err := s.Handle(context.Background(), []byte(m))
		require.NoError(t, err)
	}
}

const identityA = `{"type":"identity","data":{"node_key":"host-a","os":"linux"}}`

func TestSessionHandshake(t *testing.T) {
	s, reg, _ := newTestSession(t, "c1")
	send(t, s,
		`{"type":"hello","data":{"version":"1"}}`,
		identityA,
		`{"type":"identity","data":{"node_key":"host-b"}}`,
		`{"type":"event","data":{"delta":{"type":"upsert_node","data":{"id":"42","kind":"process"}}}}`,
	)

	assert.Equal(t, domain.NodeKey("host-a"), s.Key())
	assert.Equal(t, uint64(1), s.Stats().LateIdentities)

	got := reg.Drain(t0)
	require.Len(t, got, 1)
	assert.Equal(t, domain.NodeKey("host-a"), got[0].Source)
	assert.Equal(t, t0, got[0].At)
	assert.Equal(t, domain.GlobalID{Key: "host-a", Local: "42"}, got[0].Global("42"))
}

func TestSessionAnonymousBinding(t *testing.T) {
	s, reg, _ := newTestSession(t, "conn-7")
	send(t, s, `{"type":"event","data":{"delta":{"type":"remove_node","data":{"id":"1"}}}}`)

	key := s.Key()
	assert.True(t, strings.HasPrefix(string(key), "anon-"))
	assert.Equal(t, key, AnonKey("conn-7"))
	assert.NotEqual(t, key, AnonKey("conn-8"))

	send(t, s, identityA)
	assert.Equal(t, key, s.Key(), "identity after implicit bind is ignored")
	assert.Len(t, reg.Drain(t0), 1)
}

func TestSessionDrops(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		reason DropReason
	}{
		{"garbage", `{{{`, DropDecode},
		{"no type", `{"data":{}}`, DropInvalid},
		{"unknown message", `{"type":"gossip","data":{}}`, DropUnknownType},
		{"unknown delta", `{"type":"event","data":{"delta":{"type":"merge","data":{}}}}`, DropUnknownType},
		{"bad kind", `{"type":"event","data":{"delta":{"type":"upsert_node","data":{"id":"1","kind":"socket"}}}}`, DropInvalid},
		{"foreign namespace", `{"type":"event","data":{"delta":{"type":"upsert_edge","data":{"from":"1","to":"2","kind":"opens","ns":"host-b"}}}}`, DropNamespace},
		{"too large", `{"type":"ping","data":"` + strings.Repeat("x", 600) + `"}`, DropTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, reg, obs := newTestSession(t, "c1")
			send(t, s, identityA, tt.msg)
			assert.Equal(t, uint64(1), s.Stats().Drops[tt.reason])
			assert.Equal(t, 1, obs[string(tt.reason)])
			assert.Empty(t, reg.Drain(t0))
		})
	}
}

func TestSessionOwnNamespaceAccepted(t *testing.T) {
	s, reg, _ := newTestSession(t, "c1")
	send(t, s, identityA,
		`{"type":"event","data":{"delta":{"type":"upsert_edge","data":{"from":"1","to":"2","kind":"opens","ns":"host-a"}}}}`)
	assert.Len(t, reg.Drain(t0), 1)
}

func TestSessionPing(t *testing.T) {
	s, _, _ := newTestSession(t, "c1")
	reply, err := s.Handle(context.Background(), []byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(reply))
	assert.Empty(t, s.Key(), "ping does not bind")
}

func TestSessionSnapshot(t *testing.T) {
	s, reg, _ := newTestSession(t, "c1")
	send(t, s, identityA, `{"type":"snapshot","data":{
		"nodes":[{"id":"p1","kind":"process"},{"id":"f1","kind":"file"}],
		"edges":[{"from":"p1","to":"f1","kind":"opens"}]}}`)

	got := reg.Drain(t0)
	require.Len(t, got, 5)
	kinds := make([]domain.DeltaKind, len(got))
	for i, in := range got {
		kinds[i] = in.Delta.DeltaKind()
		assert.Equal(t, uint64(i+1), in.Seq)
	}
	assert.Equal(t, []domain.DeltaKind{
		domain.DeltaBatchOpen, domain.DeltaUpsertNode, domain.DeltaUpsertNode,
		domain.DeltaUpsertEdge, domain.DeltaBatchClose,
	}, kinds)
	assert.Equal(t, domain.BatchOpen{BatchID: "snapshot-1"}, got[0].Delta)
}

func TestSessionCloseKeepsQueue(t *testing.T) {
	s, reg, _ := newTestSession(t, "c1")
	send(t, s, identityA)
	s.Close()
	srcs := reg.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, 0, srcs[0].Sessions)
}
