package handler

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes are the handlers mounted by NewMux. Events, Ingest and Gatherer
// are optional.
type Routes struct {
	Graph    *GraphHandler
	Events   http.Handler
	Ingest   http.Handler
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewMux mounts the API, the SSE stream, the ingestion endpoint and the
// metrics endpoint, wrapped in the standard middleware
func NewMux(rt Routes) http.Handler {
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	g := rt.Graph
	mux := http.NewServeMux()

	// Node queries, ids as ?id=key/local
	mux.HandleFunc("GET /api/neighbors", g.GetNeighbors)
	mux.HandleFunc("GET /api/edges", g.GetEdges)
	mux.HandleFunc("GET /api/label", g.GetLabel)
	mux.HandleFunc("GET /api/worldline", g.GetWorldline)
	mux.HandleFunc("GET /api/explain", g.GetExplain)
	mux.HandleFunc("GET /api/visible", g.GetVisible)
	mux.HandleFunc("GET /api/search", g.Search)

	// Timeline
	mux.HandleFunc("GET /api/timeline", g.GetTimeline)
	mux.HandleFunc("POST /api/timeline/pause", g.PauseTimeline)
	mux.HandleFunc("POST /api/timeline/resume", g.ResumeTimeline)
	mux.HandleFunc("POST /api/timeline/scrub", g.ScrubTimeline)

	// Pins
	mux.HandleFunc("GET /api/pins", g.GetPins)
	mux.HandleFunc("PUT /api/pins/{id...}", g.PinNode)
	mux.HandleFunc("DELETE /api/pins/{id...}", g.UnpinNode)

	// Status
	mux.HandleFunc("GET /api/stats", g.GetStats)
	mux.HandleFunc("GET /api/sources", g.GetSources)

	// Fragments
	mux.HandleFunc("POST /api/import/{source}", g.Import)
	mux.HandleFunc("GET /api/export/{source}", g.Export)

	if rt.Events != nil {
		mux.Handle("GET /events", rt.Events)
	}
	if rt.Ingest != nil {
		mux.Handle("GET /ingest", rt.Ingest)
	}
	if rt.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}

	return Chain(mux,
		Recover(rt.Logger),
		CORS,
		Logger(rt.Logger),
	)
}
