package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"spacegraph/internal/service"
)

// KeepAlive is the interval of SSE comment frames on idle streams
const KeepAlive = 30 * time.Second

// stream is one connected SSE client. frames is closed by the hub.
type stream struct {
	id     string
	frames chan []byte
}

// Hub fans service events out to SSE clients. A slow client misses frames
// instead of stalling the others.
type Hub struct {
	mu      sync.RWMutex
	streams map[*stream]struct{}
	closed  bool

	broadcast chan service.Event
	done      chan struct{}
	logger    *slog.Logger
	keepAlive time.Duration
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		streams:   make(map[*stream]struct{}),
		broadcast: make(chan service.Event, 256),
		done:      make(chan struct{}),
		logger:    logger.With("component", "hub"),
		keepAlive: KeepAlive,
	}
}

// Run delivers broadcasts until ctx ends, then closes every open stream
// and refuses new ones
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for s := range h.streams {
				delete(h.streams, s)
				close(s.frames)
			}
			h.mu.Unlock()
			return
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev service.Event) {
	msg, err := frame(ev)
	if err != nil {
		h.logger.Warn("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.streams {
		select {
		case s.frames <- msg:
		default:
			h.logger.Debug("sse client is slow, skipping frame", "client", s.id)
		}
	}
}

// Forward broadcasts everything received on events until ctx ends
func (h *Hub) Forward(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			h.Broadcast(ev)
		}
	}
}

// frame renders an event as one SSE frame named by its type
func frame(ev service.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, data), nil
}

// Broadcast queues an event for every stream. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(ev service.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// ClientCount returns the number of open streams
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

func (h *Hub) attach() (*stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &stream{id: uuid.NewString(), frames: make(chan []byte, 64)}
	h.streams[s] = struct{}{}
	h.logger.Debug("sse client connected", "client", s.id, "total", len(h.streams))
	return s, true
}

func (h *Hub) detach(s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[s]; ok {
		delete(h.streams, s)
		close(s.frames)
	}
	h.logger.Debug("sse client disconnected", "client", s.id, "total", len(h.streams))
}

// ServeHTTP streams events to one client until it disconnects or the hub
// stops
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	s, ok := h.attach()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.detach(s)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	fmt.Fprintf(w, ": connected %s\n\n", s.id)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		var msg []byte
		select {
		case m, open := <-s.frames:
			if !open {
				return
			}
			msg = m
		case <-ticker.C:
			msg = []byte(": keepalive\n\n")
		case <-r.Context().Done():
			return
		}
		if _, err := w.Write(msg); err != nil {
			return
		}
		flusher.Flush()
	}
}
