package timeline

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"spacegraph/internal/domain"
)

// DefaultCapacity is the default ring size
const DefaultCapacity = 20000

var (
	// ErrNotPaused is returned when scrubbing a live clock
	ErrNotPaused = errors.New("timeline is not paused")
)

// NodeState is the lifecycle state of a node
type NodeState string

const (
	StateUnknown    NodeState = "unknown"
	StateActive     NodeState = "active"
	StateTombstoned NodeState = "tombstoned"
	StatePurged     NodeState = "purged"
)

// NodeSource looks up current node state. The graph model implements it.
type NodeSource interface {
	Node(id domain.GlobalID) (domain.Node, bool)
}

// Timeline records applied deltas in a bounded ring. It is single-writer;
// reads must not run concurrently with Record.
type Timeline struct {
	events *Ring[Event]
	clock  *Clock
}

// New creates a timeline with the given ring capacity and clock
func New(capacity int, clock *Clock) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	return &Timeline{events: NewRing[Event](capacity), clock: clock}
}

// Clock returns the virtual clock
func (t *Timeline) Clock() *Clock {
	return t.clock
}

// Record appends an event, evicting the oldest when full. It reports
// whether an event was evicted.
func (t *Timeline) Record(e Event) bool {
	return t.events.Push(e)
}

// Resize changes the ring capacity, keeping the newest events
func (t *Timeline) Resize(capacity int) {
	t.events.Resize(capacity)
}

// Len returns the number of retained events
func (t *Timeline) Len() int { return t.events.Len() }

// Evicted returns how many events were lost to overflow
func (t *Timeline) Evicted() uint64 { return t.events.Evicted() }

// Interval is a closed time range. Empty intervals have no bounds.
type Interval struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
	Empty bool      `json:"empty"`
}

// Worldline is the span during which a node was present in a window
type Worldline struct {
	Node  domain.GlobalID `json:"node"`
	State NodeState       `json:"state"`
	Interval
}

// Worldline returns [max(first_seen, now-window), min(removed_at or now,
// now)] for the node, evaluated at the virtual now. Purged nodes fall back
// to the events still retained in the ring.
func (t *Timeline) Worldline(nodes NodeSource, id domain.GlobalID, window time.Duration) Worldline {
	now := t.clock.Now()
	wl := Worldline{Node: id}

	var first, last time.Time
	if n, ok := nodes.Node(id); ok {
		wl.State = StateActive
		first, last = n.FirstSeen, now
		if n.RemovedAt != nil {
			wl.State = StateTombstoned
			last = *n.RemovedAt
		}
	} else {
		var seen bool
		first, last, seen = t.span(id)
		if !seen {
			wl.State = StateUnknown
			wl.Empty = true
			return wl
		}
		wl.State = StatePurged
	}

	wl.Interval = clip(first, last, now, window)
	return wl
}

// span derives a lifespan from retained events
func (t *Timeline) span(id domain.GlobalID) (first, last time.Time, seen bool) {
	t.events.Each(func(e Event) bool {
		if !e.Involves(id) {
			return true
		}
		if !seen || e.TS.Before(first) {
			first = e.TS
		}
		if !seen || e.TS.After(last) {
			last = e.TS
		}
		seen = true
		return true
	})
	return first, last, seen
}

func clip(first, last, now time.Time, window time.Duration) Interval {
	start := first
	if window > 0 {
		if lo := now.Add(-window); lo.After(start) {
			start = lo
		}
	}
	end := last
	if now.Before(end) {
		end = now
	}
	if start.After(end) {
		return Interval{Empty: true}
	}
	return Interval{Start: start, End: end}
}

// State returns the lifecycle state of a node
func (t *Timeline) State(nodes NodeSource, id domain.GlobalID) NodeState {
	if n, ok := nodes.Node(id); ok {
		if n.RemovedAt != nil {
			return StateTombstoned
		}
		return StateActive
	}
	if _, _, seen := t.span(id); seen {
		return StatePurged
	}
	return StateUnknown
}

// WindowResult is a capped slice of events
type WindowResult struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Events []Event   `json:"events"`
	// Dropped counts in-window events cut by the cap, oldest first
	Dropped int `json:"dropped"`
	// Truncated is set when ring overflow may have removed in-window events
	Truncated bool `json:"truncated"`
}

// EventsInWindow returns events with timestamps in [now-window, now] in
// sequence order. Beyond max, the oldest are dropped. The scan is bounded
// by the ring capacity.
func (t *Timeline) EventsInWindow(window time.Duration, max int) WindowResult {
	now := t.clock.Now()
	from := now.Add(-window)
	res := WindowResult{From: from, To: now}

	var oldest time.Time
	t.events.Each(func(e Event) bool {
		if oldest.IsZero() || e.TS.Before(oldest) {
			oldest = e.TS
		}
		if e.TS.Before(from) || e.TS.After(now) {
			return true
		}
		res.Events = append(res.Events, e)
		return true
	})

	if max > 0 && len(res.Events) > max {
		res.Dropped = len(res.Events) - max
		res.Events = res.Events[res.Dropped:]
	}
	res.Truncated = t.events.Evicted() > 0 && oldest.After(from)
	return res
}

// Span is a matched pair of batch markers
type Span struct {
	Source  domain.NodeKey `json:"source"`
	BatchID string         `json:"batch_id"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end,omitzero"`
	Open    bool           `json:"open"`
	Events  int            `json:"events"`
}

// BatchSpans pairs batch markers from the same source. Spans that end
// before the window are omitted; unclosed spans are reported as open.
func (t *Timeline) BatchSpans(window time.Duration) []Span {
	now := t.clock.Now()
	from := now.Add(-window)

	type spanKey struct {
		src domain.NodeKey
		id  string
	}
	open := make(map[spanKey]*Span)
	counts := make(map[domain.NodeKey]int)
	var spans []*Span

	t.events.Each(func(e Event) bool {
		if e.TS.After(now) {
			return true
		}
		switch p := e.Payload.(type) {
		case BatchOpen:
			s := &Span{Source: e.Source, BatchID: p.BatchID, Start: e.TS, Open: true}
			open[spanKey{e.Source, p.BatchID}] = s
			spans = append(spans, s)
			counts[e.Source] = 0
		case BatchClose:
			k := spanKey{e.Source, p.BatchID}
			if s, ok := open[k]; ok {
				s.End = e.TS
				s.Open = false
				s.Events = counts[e.Source]
				delete(open, k)
			}
		default:
			counts[e.Source]++
		}
		return true
	})

	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Open {
			s.Events = counts[s.Source]
		} else if window > 0 && s.End.Before(from) {
			continue
		}
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// MarshalJSON tags the payload with its kind
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Seq     uint64         `json:"seq"`
		TS      time.Time      `json:"ts"`
		Source  domain.NodeKey `json:"source"`
		Type    PayloadKind    `json:"type"`
		Payload Payload        `json:"payload"`
	}{e.Seq, e.TS, e.Source, e.Payload.PayloadKind(), e.Payload})
}
