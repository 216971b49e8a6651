package ingest

import (
	"sort"
	"sync"
	"time"

	"spacegraph/internal/domain"
)

// rateSmoothing weights the newest sample of the per-source message rate
const rateSmoothing = 0.3

type source struct {
	queue     *Queue
	identity  domain.Identity
	sessions  int
	lastDrain time.Time
	rate      float64
}

// Registry owns one queue per source key
type Registry struct {
	mu       sync.RWMutex
	sources  map[domain.NodeKey]*source
	capacity int
	policy   Policy
	closed   bool
}

// NewRegistry creates a registry whose queues use the given bound and policy
func NewRegistry(capacity int, policy Policy) *Registry {
	return &Registry{
		sources:  make(map[domain.NodeKey]*source),
		capacity: capacity,
		policy:   policy,
	}
}

// Queue returns the queue for key, creating it on first use
func (r *Registry) Queue(key domain.NodeKey) *Queue {
	r.mu.RLock()
	s, ok := r.sources[key]
	r.mu.RUnlock()
	if ok {
		return s.queue
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sourceLocked(key).queue
}

func (r *Registry) sourceLocked(key domain.NodeKey) *source {
	s, ok := r.sources[key]
	if !ok {
		s = &source{
			queue:    newQueue(key, r.capacity, r.policy),
			identity: domain.Identity{NodeKey: key},
		}
		if r.closed {
			s.queue.Close()
		}
		r.sources[key] = s
	}
	return s
}

// Attach records a session bound to id and returns its queue. A known
// source keeps its queue, so sequence numbers continue.
func (r *Registry) Attach(id domain.Identity) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sourceLocked(id.NodeKey)
	s.identity = id
	s.sessions++
	return s.queue
}

// Detach records a session ending. The queue stays.
func (r *Registry) Detach(key domain.NodeKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[key]; ok && s.sessions > 0 {
		s.sessions--
	}
}

// Drain empties every queue and returns the messages in the total order
// (Seq, then source key). The result depends only on what was queued.
func (r *Registry) Drain(now time.Time) []domain.Incoming {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Incoming
	for _, s := range r.sources {
		batch := s.queue.drain()
		if !s.lastDrain.IsZero() {
			if dt := now.Sub(s.lastDrain).Seconds(); dt > 0 {
				sample := float64(len(batch)) / dt
				s.rate += rateSmoothing * (sample - s.rate)
			}
		}
		s.lastDrain = now
		out = append(out, batch...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// SetLimits changes the bound and policy of existing and future queues
func (r *Registry) SetLimits(capacity int, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if capacity > 0 {
		r.capacity = capacity
	}
	r.policy = policy
	for _, s := range r.sources {
		s.queue.setLimits(capacity, policy)
	}
}

// Close closes every queue, including ones created later. Queued
// messages stay drainable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, s := range r.sources {
		s.queue.Close()
	}
}

// SourceStats describes one source
type SourceStats struct {
	Identity domain.Identity `json:"identity"`
	Sessions int             `json:"sessions"`
	// Rate is the smoothed messages per second seen at drain
	Rate float64 `json:"rate"`
	QueueStats
}

// Sources returns stats for every known source, ordered by key
func (r *Registry) Sources() []SourceStats {
	r.mu.RLock()
	out := make([]SourceStats, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, SourceStats{
			Identity:   s.identity,
			Sessions:   s.sessions,
			Rate:       s.rate,
			QueueStats: s.queue.Stats(),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.NodeKey < out[j].Identity.NodeKey })
	return out
}

// Depth returns the total number of queued messages
func (r *Registry) Depth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sources {
		n += s.queue.Stats().Depth
	}
	return n
}
