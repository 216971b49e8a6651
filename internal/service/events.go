package service

import (
	"sync"

	"spacegraph/internal/core"
)

// EventType names what changed; it is the SSE event name on the wire
type EventType string

const (
	EventTick            EventType = "tick"
	EventSweep           EventType = "gc"
	EventPinsUpdated     EventType = "pins_updated"
	EventTimelinePaused  EventType = "timeline_paused"
	EventTimelineResumed EventType = "timeline_resumed"
	EventTimelineScrub   EventType = "timeline_scrubbed"
	EventImportQueued    EventType = "import_queued"
)

// Event is one change notification. Payload is a core.Summary for tick and
// gc events and the operation's result otherwise.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus fans events out to subscriber channels without blocking the
// publisher. A full subscriber channel loses the event.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan<- Event
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers ch for every later event
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs = append(eb.subs, ch)
}

// Publish offers event to each subscriber and reports how many took it
func (eb *EventBus) Publish(event Event) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	delivered := 0
	for _, ch := range eb.subs {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Notify adapts the bus to core.Deps.Notify
func (eb *EventBus) Notify(sum core.Summary) {
	typ := EventTick
	if sum.Kind == core.SummarySweep {
		typ = EventSweep
	}
	eb.Publish(Event{Type: typ, Payload: sum})
}
