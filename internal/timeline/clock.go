package timeline

import (
	"sync"
	"time"
)

// Clock is the virtual "now" used by every time-windowed query. Live, it
// follows the time source. Paused, it returns the frozen instant minus
// the scrub offset, so the same offset always maps to the same instant.
type Clock struct {
	mu     sync.Mutex
	source func() time.Time
	paused bool
	frozen time.Time
	offset time.Duration
}

// ClockState is a snapshot of the clock
type ClockState struct {
	Paused bool          `json:"paused"`
	Frozen time.Time     `json:"frozen,omitzero"`
	Offset time.Duration `json:"offset"`
	Now    time.Time     `json:"now"`
}

// NewClock creates a live clock. A nil source means time.Now.
func NewClock(source func() time.Time) *Clock {
	if source == nil {
		source = time.Now
	}
	return &Clock{source: source}
}

// Now returns the virtual current time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Time {
	if c.paused {
		return c.frozen.Add(-c.offset)
	}
	return c.source()
}

// Pause freezes the clock at the current time. Pausing twice keeps the
// first frozen instant.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.frozen = c.source()
	c.offset = 0
}

// Resume returns to live time and clears the scrub offset
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.offset = 0
}

// Scrub moves the paused clock back by offset, clamped to [0, limit]. A
// non-positive limit disables the upper clamp.
func (c *Clock) Scrub(offset, limit time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return ErrNotPaused
	}
	if offset < 0 {
		offset = 0
	}
	if limit > 0 && offset > limit {
		offset = limit
	}
	c.offset = offset
	return nil
}

// State returns a snapshot of the clock
func (c *Clock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := ClockState{Paused: c.paused, Offset: c.offset, Now: c.nowLocked()}
	if c.paused {
		s.Frozen = c.frozen
	}
	return s
}
