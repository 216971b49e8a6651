package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/explain"
	"spacegraph/internal/projection"
	"spacegraph/internal/service"
	"spacegraph/internal/timeline"
)

// MaxImportSize bounds an import request body
const MaxImportSize = 16 << 20

// GraphHandler handles graph API requests
type GraphHandler struct {
	svc    *service.GraphService
	logger *slog.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(svc *service.GraphService, logger *slog.Logger) *GraphHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphHandler{svc: svc, logger: logger.With("component", "api")}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// GetNeighbors returns the distinct neighbors of ?id=
func (h *GraphHandler) GetNeighbors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeParam(w, r)
	if !ok {
		return
	}
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	res, err := h.svc.Neighbors(id, limit)
	if err != nil {
		h.writeServiceError(w, "Failed to get neighbors", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// GetEdges returns edges of ?id=, raw occurrences with ?raw=true
func (h *GraphHandler) GetEdges(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeParam(w, r)
	if !ok {
		return
	}
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	raw, ok := h.boolParam(w, r, "raw")
	if !ok {
		return
	}
	res, err := h.svc.Edges(id, raw, limit)
	if err != nil {
		h.writeServiceError(w, "Failed to get edges", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// GetLabel returns the display label of ?id=
func (h *GraphHandler) GetLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Label(id)
	if err != nil {
		h.writeServiceError(w, "Failed to get label", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// GetWorldline returns the presence interval of ?id= within ?window=
func (h *GraphHandler) GetWorldline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nodeParam(w, r)
	if !ok {
		return
	}
	window, ok := h.durationParam(w, r, "window")
	if !ok {
		return
	}
	h.writeJSON(w, h.svc.Worldline(id, window), http.StatusOK)
}

// GetExplain searches for a path from ?a= to ?b=. Passing ?sources= or
// ?scoped=true restricts the search to the visible set.
func (h *GraphHandler) GetExplain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, err := domain.ParseGlobalID(q.Get("a"))
	if err != nil {
		h.writeError(w, "Invalid node ID", err.Error(), http.StatusBadRequest)
		return
	}
	b, err := domain.ParseGlobalID(q.Get("b"))
	if err != nil {
		h.writeError(w, "Invalid node ID", err.Error(), http.StatusBadRequest)
		return
	}

	var (
		lim explain.Limits
		ok  bool
	)
	if lim.MaxDepth, ok = h.intParam(w, r, "depth"); !ok {
		return
	}
	if lim.NodeCap, ok = h.intParam(w, r, "node_cap"); !ok {
		return
	}
	scoped, ok := h.boolParam(w, r, "scoped")
	if !ok {
		return
	}

	var scope *projection.State
	if scoped || q.Get("sources") != "" {
		st, ok := h.visibleParams(w, r)
		if !ok {
			return
		}
		scope = &st
	}

	h.writeJSON(w, h.svc.Explain(r.Context(), a, b, lim, scope), http.StatusOK)
}

// GetVisible returns the capped visible set
func (h *GraphHandler) GetVisible(w http.ResponseWriter, r *http.Request) {
	st, ok := h.visibleParams(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, h.svc.Visible(st), http.StatusOK)
}

// GetTimeline returns the events of ?window=, capped at ?max=
func (h *GraphHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	window, ok := h.durationParam(w, r, "window")
	if !ok {
		return
	}
	max, ok := h.intParam(w, r, "max")
	if !ok {
		return
	}
	h.writeJSON(w, h.svc.Timeline(window, max), http.StatusOK)
}

// PauseTimeline freezes the virtual clock
func (h *GraphHandler) PauseTimeline(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Pause(), http.StatusOK)
}

// ResumeTimeline returns the virtual clock to real time
func (h *GraphHandler) ResumeTimeline(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Resume(), http.StatusOK)
}

// ScrubRequest moves a paused clock into the past
type ScrubRequest struct {
	Offset string `json:"offset"`
}

// ScrubTimeline sets the scrub offset of a paused clock
func (h *GraphHandler) ScrubTimeline(w http.ResponseWriter, r *http.Request) {
	var req ScrubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := time.ParseDuration(req.Offset)
	if err != nil {
		h.writeError(w, "Invalid offset", err.Error(), http.StatusBadRequest)
		return
	}
	st, err := h.svc.Scrub(offset)
	if err != nil {
		h.writeServiceError(w, "Failed to scrub timeline", err)
		return
	}
	h.writeJSON(w, st, http.StatusOK)
}

// GetPins lists pinned nodes
func (h *GraphHandler) GetPins(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Pins(), http.StatusOK)
}

// PinNode pins the node named by the path
func (h *GraphHandler) PinNode(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseGlobalID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, "Invalid node ID", err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, h.svc.Pin(id), http.StatusOK)
}

// UnpinNode releases the node named by the path
func (h *GraphHandler) UnpinNode(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseGlobalID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, "Invalid node ID", err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, h.svc.Unpin(id), http.StatusOK)
}

// Search finds nodes matching ?q=
func (h *GraphHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	h.writeJSON(w, h.svc.Search(r.URL.Query().Get("q"), limit), http.StatusOK)
}

// GetStats returns core counters
func (h *GraphHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Stats(), http.StatusOK)
}

// GetSources returns per-source ingest statistics
func (h *GraphHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Sources(), http.StatusOK)
}

// Import queues a fragment for the source named by the path. The format
// comes from ?format=, json by default.
func (h *GraphHandler) Import(w http.ResponseWriter, r *http.Request) {
	source := domain.NodeKey(r.PathValue("source"))
	body := http.MaxBytesReader(w, r.Body, MaxImportSize)
	res, err := h.svc.Import(r.Context(), source, formatParam(r), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, "Request body too large", err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		h.writeServiceError(w, "Failed to import fragment", err)
		return
	}
	h.logger.Info("fragment queued", "source", res.Source, "nodes", res.Nodes, "edges", res.Edges)
	h.writeJSON(w, res, http.StatusAccepted)
}

// Export writes the live fragment of the source named by the path
func (h *GraphHandler) Export(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	format := formatParam(r)
	if !domain.ValidNodeKey(domain.NodeKey(source)) {
		h.writeError(w, "Invalid source", fmt.Sprintf("source %q", source), http.StatusBadRequest)
		return
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "yaml", "yml":
		w.Header().Set("Content-Type", "application/x-yaml")
	default:
		h.writeError(w, "Unknown format", format, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", source, format))

	if err := h.svc.Export(domain.NodeKey(source), format, w); err != nil {
		// headers are already out
		h.logger.Warn("failed to export fragment", "source", source, "error", err)
	}
}

// Helper methods

func (h *GraphHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", "error", err)
	}
}

func (h *GraphHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

// writeServiceError maps service and core sentinels to status codes
func (h *GraphHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrUnknownFormat):
		status = http.StatusBadRequest
	case errors.Is(err, timeline.ErrNotPaused):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *GraphHandler) nodeParam(w http.ResponseWriter, r *http.Request) (domain.GlobalID, bool) {
	id, err := domain.ParseGlobalID(r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, "Invalid node ID", err.Error(), http.StatusBadRequest)
		return domain.GlobalID{}, false
	}
	return id, true
}

// intParam reads an optional non-negative integer; absent means zero
func (h *GraphHandler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		h.writeError(w, "Invalid parameter", fmt.Sprintf("%s must be a non-negative integer", name), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *GraphHandler) boolParam(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, true
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		h.writeError(w, "Invalid parameter", fmt.Sprintf("%s must be a boolean", name), http.StatusBadRequest)
		return false, false
	}
	return v, true
}

func (h *GraphHandler) durationParam(w http.ResponseWriter, r *http.Request, name string) (time.Duration, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	v, err := time.ParseDuration(s)
	if err != nil || v < 0 {
		h.writeError(w, "Invalid parameter", fmt.Sprintf("%s must be a duration such as 30s", name), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *GraphHandler) visibleParams(w http.ResponseWriter, r *http.Request) (projection.State, bool) {
	var st projection.State
	var ok bool
	if st.Cap, ok = h.intParam(w, r, "cap"); !ok {
		return st, false
	}
	if st.EdgeCap, ok = h.intParam(w, r, "edge_cap"); !ok {
		return st, false
	}
	if st.IncludeTombstoned, ok = h.boolParam(w, r, "tombstoned"); !ok {
		return st, false
	}
	st.ActiveSources = projection.ParseSources(r.URL.Query().Get("sources"))
	return st, true
}

func formatParam(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	return "json"
}
