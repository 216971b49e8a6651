package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spacegraph/internal/domain"
)

// ErrQueueClosed is returned when pushing to a closed queue
var ErrQueueClosed = errors.New("queue closed")

// Policy decides what a full queue does with a new message
type Policy string

const (
	// PolicyDropOldest evicts the oldest queued message
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyBlock makes the producer wait for space
	PolicyBlock Policy = "block"
)

// ParsePolicy converts a config string to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyDropOldest, "":
		return PolicyDropOldest, nil
	case PolicyBlock:
		return PolicyBlock, nil
	}
	return "", fmt.Errorf("unknown queue policy %q", s)
}

// DefaultCapacity is the per-source queue bound
const DefaultCapacity = 4096

// Queue is the bounded FIFO of one source. Producers push, the core tick
// drains. Sequence numbers are assigned at push and never reused, so they
// keep increasing across reconnects of the same source.
type Queue struct {
	key domain.NodeKey

	mu       sync.Mutex
	buf      []domain.Incoming
	capacity int
	policy   Policy
	nextSeq  uint64
	pushed   uint64
	dropped  uint64
	lastAt   time.Time
	closed   bool
	// space is closed and replaced whenever room frees up
	space chan struct{}
}

func newQueue(key domain.NodeKey, capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		key:      key,
		capacity: capacity,
		policy:   policy,
		space:    make(chan struct{}),
	}
}

// Key returns the source this queue belongs to
func (q *Queue) Key() domain.NodeKey {
	return q.key
}

// Push appends a delta stamped with at. Under PolicyBlock a full queue
// waits until drained or ctx is done.
func (q *Queue) Push(ctx context.Context, at time.Time, d domain.Delta) (uint64, error) {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}
		if len(q.buf) < q.capacity {
			break
		}
		if q.policy != PolicyBlock {
			q.buf = q.buf[1:]
			q.dropped++
			break
		}
		wait := q.space
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}

	q.nextSeq++
	q.pushed++
	q.lastAt = at
	q.buf = append(q.buf, domain.Incoming{
		Source: q.key,
		Seq:    q.nextSeq,
		At:     at,
		Delta:  d,
	})
	seq := q.nextSeq
	q.mu.Unlock()
	return seq, nil
}

// drain takes everything queued. It never blocks on producers.
func (q *Queue) drain() []domain.Incoming {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = make([]domain.Incoming, 0, len(out))
	if !q.closed {
		close(q.space)
		q.space = make(chan struct{})
	}
	return out
}

func (q *Queue) setLimits(capacity int, policy Policy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if capacity > 0 {
		q.capacity = capacity
	}
	q.policy = policy
	for len(q.buf) > q.capacity {
		q.buf = q.buf[1:]
		q.dropped++
	}
}

// Close wakes blocked producers and rejects further pushes
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.space)
}

// QueueStats is a point-in-time view of a queue
type QueueStats struct {
	Depth    int       `json:"depth"`
	Capacity int       `json:"capacity"`
	Pushed   uint64    `json:"pushed"`
	Dropped  uint64    `json:"dropped"`
	LastAt   time.Time `json:"last_at"`
}

// Stats returns queue counters
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    len(q.buf),
		Capacity: q.capacity,
		Pushed:   q.pushed,
		Dropped:  q.dropped,
		LastAt:   q.lastAt,
	}
}
