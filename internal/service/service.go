package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"spacegraph/internal/codec"
	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/explain"
	"spacegraph/internal/ingest"
	"spacegraph/internal/projection"
	"spacegraph/internal/timeline"
)

var (
	// ErrUnknownFormat is returned for an import or export format with no codec
	ErrUnknownFormat = errors.New("unknown format")
	// ErrInvalidArgument is returned for request values that cannot be served
	ErrInvalidArgument = errors.New("invalid argument")
)

// Limits are the maxima every caller-supplied cap is clamped to, and the
// defaults used when a caller supplies none.
type Limits struct {
	MaxNeighbors     int
	MaxEdges         int
	DefaultDepth     int
	MaxDepth         int
	DefaultNodeCap   int
	MaxNodeCap       int
	DefaultVisible   int
	MaxVisible       int
	MaxVisibleEdges  int
	DefaultWindow    time.Duration
	MaxWindow        time.Duration
	MaxEvents        int
	MaxSearchResults int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxNeighbors:     500,
		MaxEdges:         500,
		DefaultDepth:     6,
		MaxDepth:         12,
		DefaultNodeCap:   2000,
		MaxNodeCap:       20000,
		DefaultVisible:   300,
		MaxVisible:       2000,
		MaxVisibleEdges:  4000,
		DefaultWindow:    5 * time.Minute,
		MaxWindow:        time.Hour,
		MaxEvents:        2000,
		MaxSearchResults: 50,
	}
}

// clamp returns def for an unset value and max for an excessive one
func clamp[T int | time.Duration](v, def, max T) T {
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	return v
}

// GraphService provides the query and control operations of the API
type GraphService struct {
	core     *core.Core
	eventBus *EventBus

	limits atomic.Pointer[Limits]
}

// NewGraphService creates a new graph service
func NewGraphService(c *core.Core, eventBus *EventBus, limits Limits) *GraphService {
	s := &GraphService{
		core:     c,
		eventBus: eventBus,
	}
	s.limits.Store(&limits)
	return s
}

// SetLimits replaces the configured maxima
func (s *GraphService) SetLimits(limits Limits) {
	s.limits.Store(&limits)
}

func (s *GraphService) lim() Limits {
	return *s.limits.Load()
}

// NeighborsResult is a capped neighbor list
type NeighborsResult struct {
	Node      domain.GlobalID   `json:"node"`
	Neighbors []domain.GlobalID `json:"neighbors"`
	Total     int               `json:"total"`
}

// Neighbors returns distinct neighbors of a node
func (s *GraphService) Neighbors(id domain.GlobalID, limit int) (*NeighborsResult, error) {
	limit = clamp(limit, s.lim().MaxNeighbors, s.lim().MaxNeighbors)
	nbrs, total, err := s.core.Neighbors(id, limit)
	if err != nil {
		return nil, err
	}
	return &NeighborsResult{Node: id, Neighbors: nbrs, Total: total}, nil
}

// EdgesResult is a capped edge list
type EdgesResult struct {
	Node  domain.GlobalID   `json:"node"`
	Edges []domain.EdgeView `json:"edges"`
	Total int               `json:"total"`
}

// Edges returns edges touching a node, raw occurrences included on request
func (s *GraphService) Edges(id domain.GlobalID, raw bool, limit int) (*EdgesResult, error) {
	limit = clamp(limit, s.lim().MaxEdges, s.lim().MaxEdges)
	edges, total, err := s.core.Edges(id, raw, limit)
	if err != nil {
		return nil, err
	}
	return &EdgesResult{Node: id, Edges: edges, Total: total}, nil
}

// Explain searches for a path between two nodes with clamped bounds
func (s *GraphService) Explain(ctx context.Context, a, b domain.GlobalID, lim explain.Limits, scope *projection.State) explain.Result {
	lim.MaxDepth = clamp(lim.MaxDepth, s.lim().DefaultDepth, s.lim().MaxDepth)
	lim.NodeCap = clamp(lim.NodeCap, s.lim().DefaultNodeCap, s.lim().MaxNodeCap)
	if scope != nil {
		st := s.visibleState(*scope)
		scope = &st
	}
	return s.core.Explain(ctx, a, b, lim, scope)
}

// Worldline returns the presence interval of a node
func (s *GraphService) Worldline(id domain.GlobalID, window time.Duration) timeline.Worldline {
	return s.core.Worldline(id, clamp(window, s.lim().DefaultWindow, s.lim().MaxWindow))
}

// Visible returns the capped visible set
func (s *GraphService) Visible(st projection.State) projection.View {
	return s.core.Visible(s.visibleState(st))
}

func (s *GraphService) visibleState(st projection.State) projection.State {
	st.Cap = clamp(st.Cap, s.lim().DefaultVisible, s.lim().MaxVisible)
	st.EdgeCap = clamp(st.EdgeCap, s.lim().MaxVisibleEdges, s.lim().MaxVisibleEdges)
	return st
}

// LabelResult is the short label of a node
type LabelResult struct {
	Node  domain.GlobalID    `json:"node"`
	Kind  domain.NodeKind    `json:"kind"`
	Label string             `json:"label"`
	State timeline.NodeState `json:"state"`
}

// Label returns the display label of a node
func (s *GraphService) Label(id domain.GlobalID) (*LabelResult, error) {
	n, err := s.core.Node(id)
	if err != nil {
		return nil, err
	}
	return &LabelResult{Node: id, Kind: n.Kind, Label: n.Label(), State: s.core.NodeState(id)}, nil
}

// TimelineResult is a window of events with its batch spans
type TimelineResult struct {
	timeline.WindowResult
	Spans []timeline.Span     `json:"spans"`
	Clock timeline.ClockState `json:"clock"`
}

// Timeline returns events of the window
func (s *GraphService) Timeline(window time.Duration, max int) *TimelineResult {
	window = clamp(window, s.lim().DefaultWindow, s.lim().MaxWindow)
	max = clamp(max, s.lim().MaxEvents, s.lim().MaxEvents)
	return &TimelineResult{
		WindowResult: s.core.Timeline(window, max),
		Spans:        s.core.BatchSpans(window),
		Clock:        s.core.Clock().State(),
	}
}

// Search finds nodes by id or label
func (s *GraphService) Search(query string, limit int) []domain.Node {
	return s.core.Search(query, clamp(limit, s.lim().MaxSearchResults, s.lim().MaxSearchResults))
}

// Stats returns core counters
func (s *GraphService) Stats() core.Stats {
	return s.core.Stats()
}

// Sources returns per-source ingest statistics
func (s *GraphService) Sources() []ingest.SourceStats {
	return s.core.Sources()
}

// Pause freezes the virtual clock
func (s *GraphService) Pause() timeline.ClockState {
	clock := s.core.Clock()
	clock.Pause()
	st := clock.State()
	s.eventBus.Publish(Event{Type: EventTimelinePaused, Payload: st})
	return st
}

// Resume returns the virtual clock to real time
func (s *GraphService) Resume() timeline.ClockState {
	clock := s.core.Clock()
	clock.Resume()
	st := clock.State()
	s.eventBus.Publish(Event{Type: EventTimelineResumed, Payload: st})
	return st
}

// Scrub moves a paused clock back by offset, within the maximum window
func (s *GraphService) Scrub(offset time.Duration) (timeline.ClockState, error) {
	clock := s.core.Clock()
	if err := clock.Scrub(offset, s.lim().MaxWindow); err != nil {
		return timeline.ClockState{}, err
	}
	st := clock.State()
	s.eventBus.Publish(Event{Type: EventTimelineScrub, Payload: st})
	return st, nil
}

// Pin holds a node against GC and favors it in projections
func (s *GraphService) Pin(id domain.GlobalID) []domain.GlobalID {
	s.core.Pins().Pin(id)
	return s.publishPins()
}

// Unpin releases a node
func (s *GraphService) Unpin(id domain.GlobalID) []domain.GlobalID {
	s.core.Pins().Unpin(id)
	return s.publishPins()
}

// Pins lists pinned nodes
func (s *GraphService) Pins() []domain.GlobalID {
	return s.core.Pins().List()
}

func (s *GraphService) publishPins() []domain.GlobalID {
	pins := s.core.Pins().List()
	s.eventBus.Publish(Event{Type: EventPinsUpdated, Payload: pins})
	return pins
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Source domain.NodeKey `json:"source"`
	Nodes  int            `json:"nodes"`
	Edges  int            `json:"edges"`
	Queued int            `json:"queued"`
}

// Import parses a fragment in the given format and queues it for source
func (s *GraphService) Import(ctx context.Context, source domain.NodeKey, format string, r io.Reader) (*ImportResult, error) {
	c, ok := codec.ForFormat(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	fragment, err := c.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}

	queued, err := s.core.Import(ctx, source, fragment, time.Now())
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Source: source,
		Nodes:  len(fragment.Nodes),
		Edges:  len(fragment.Edges),
		Queued: queued,
	}
	s.eventBus.Publish(Event{Type: EventImportQueued, Payload: result})
	return result, nil
}

// Export writes the live fragment of one source in the given format
func (s *GraphService) Export(source domain.NodeKey, format string, w io.Writer) error {
	c, ok := codec.ForFormat(format)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if !domain.ValidNodeKey(source) {
		return fmt.Errorf("%w: source %q", ErrInvalidArgument, source)
	}
	return c.Export(s.core.Fragment(source), w)
}
