package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/metrics"
	"spacegraph/internal/service"
	"spacegraph/internal/timeline"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	core    *core.Core
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := service.NewEventBus()
	c := core.New(core.Options{}, core.Deps{
		Metrics: m,
		Notify:  bus.Notify,
		Now:     func() time.Time { return t0.Add(time.Minute) },
	})
	svc := service.NewGraphService(c, bus, service.DefaultLimits())

	q := c.Registry().Queue("h")
	for _, d := range []domain.Delta{
		domain.UpsertNode{ID: "p", Kind: domain.NodeKindProcess, Attrs: map[string]string{"exe": "/usr/sbin/nginx"}},
		domain.UpsertNode{ID: "a", Kind: domain.NodeKindFile, Attrs: map[string]string{"path": "/etc/nginx.conf"}},
		domain.UpsertNode{ID: "b", Kind: domain.NodeKindFile},
		domain.UpsertEdge{From: "p", To: "a", Kind: domain.EdgeKindOpens},
		domain.UpsertEdge{From: "p", To: "b", Kind: domain.EdgeKindOpens},
	} {
		_, err := q.Push(context.Background(), t0, d)
		require.NoError(t, err)
	}
	c.Tick(context.Background(), t0)

	srv := httptest.NewServer(NewMux(Routes{
		Graph:    NewGraphHandler(svc, nil),
		Ingest:   NewIngestHandler(c.Registry(), m, nil, IngestOptions{MaxMessageSize: 4096}),
		Gatherer: reg,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, core: c, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestNodeQueries(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/neighbors?id=h/p", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var nbrs service.NeighborsResult
	require.NoError(t, json.Unmarshal(body, &nbrs))
	assert.Equal(t, 2, nbrs.Total)

	code, body = s.do(t, http.MethodGet, "/api/edges?id=h/p&limit=1", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var edges service.EdgesResult
	require.NoError(t, json.Unmarshal(body, &edges))
	assert.Equal(t, 2, edges.Total)
	assert.Len(t, edges.Edges, 1)

	code, body = s.do(t, http.MethodGet, "/api/label?id=h/p", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var label service.LabelResult
	require.NoError(t, json.Unmarshal(body, &label))
	assert.Equal(t, "nginx", label.Label)
	assert.Equal(t, timeline.StateActive, label.State)

	code, body = s.do(t, http.MethodGet, "/api/search?q=nginx", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"local":"p"`)
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing id", http.MethodGet, "/api/neighbors", "", http.StatusBadRequest},
		{"id without key", http.MethodGet, "/api/label?id=p", "", http.StatusBadRequest},
		{"unknown node", http.MethodGet, "/api/neighbors?id=h/zz", "", http.StatusNotFound},
		{"negative limit", http.MethodGet, "/api/edges?id=h/p&limit=-1", "", http.StatusBadRequest},
		{"bad bool", http.MethodGet, "/api/edges?id=h/p&raw=maybe", "", http.StatusBadRequest},
		{"bad window", http.MethodGet, "/api/timeline?window=soon", "", http.StatusBadRequest},
		{"bad explain endpoint", http.MethodGet, "/api/explain?a=h/p", "", http.StatusBadRequest},
		{"scrub while live", http.MethodPost, "/api/timeline/scrub", `{"offset":"10s"}`, http.StatusConflict},
		{"scrub bad body", http.MethodPost, "/api/timeline/scrub", `{`, http.StatusBadRequest},
		{"import unknown format", http.MethodPost, "/api/import/h?format=csv", "x", http.StatusBadRequest},
		{"export unknown format", http.MethodGet, "/api/export/h?format=csv", "", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/stats", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, string(body))
			if tt.want != http.StatusMethodNotAllowed {
				var e ErrorResponse
				require.NoError(t, json.Unmarshal(body, &e))
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

func TestExplainAndVisible(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/explain?a=h/a&b=h/b", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"status":"found"`)

	code, body = s.do(t, http.MethodGet, "/api/explain?a=h/a&b=h/b&sources=other", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.NotContains(t, string(body), `"status":"found"`)

	code, body = s.do(t, http.MethodGet, "/api/visible?cap=2", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var view struct {
		Nodes          []domain.GlobalID `json:"nodes"`
		TruncatedNodes int               `json:"truncated_nodes"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Len(t, view.Nodes, 2)
	assert.Equal(t, 1, view.TruncatedNodes)
}

func TestTimelineControl(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/timeline/pause", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"paused":true`)

	code, body = s.do(t, http.MethodPost, "/api/timeline/scrub", `{"offset":"10s"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var st timeline.ClockState
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 10*time.Second, st.Offset)

	code, body = s.do(t, http.MethodGet, "/api/timeline?window=5m", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"spans"`)

	code, _ = s.do(t, http.MethodPost, "/api/timeline/resume", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestPins(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPut, "/api/pins/h/p", "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.True(t, s.core.Pins().Pinned(domain.NewGlobalID("h", "p")))

	code, body = s.do(t, http.MethodGet, "/api/pins", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"local":"p"`)

	code, _ = s.do(t, http.MethodDelete, "/api/pins/h/p", "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, s.core.Pins().Pinned(domain.NewGlobalID("h", "p")))
}

func TestImportExport(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/import/mirror?format=yaml",
		"nodes:\n  - id: x\n    kind: host\n    attrs:\n      hostname: web-1\n")
	require.Equal(t, http.StatusAccepted, code, string(body))
	s.core.Tick(context.Background(), t0)

	code, body = s.do(t, http.MethodGet, "/api/export/mirror", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "web-1")

	code, body = s.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"nodes":4`)
}

func TestMetricsAndCORS(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "spacegraph_graph_nodes 3")

	code, _ = s.do(t, http.MethodOptions, "/api/stats", "")
	assert.Equal(t, http.StatusNoContent, code)
}

func TestIngestWebsocket(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ingest"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(msg string) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	send(`{"type":"identity","data":{"node_key":"agent-1","os":"linux"}}`)
	send(`{"type":"event","data":{"delta":{"type":"upsert_node","data":{"id":"7","kind":"user","attrs":{"username":"root"}}}}}`)
	send(`{"type":"event","data":{"delta":{"type":"upsert_node","data":{"id":"8","kind":"socket"}}}}`)
	send(`{"type":"ping"}`)

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(reply))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.IngestDrops.WithLabelValues("invalid")))

	s.core.Tick(context.Background(), t0)
	label, err := s.core.Label(domain.NewGlobalID("agent-1", "7"))
	require.NoError(t, err)
	assert.Equal(t, "root", label)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.Sessions) == 0
	}, time.Second, 5*time.Millisecond)
}
