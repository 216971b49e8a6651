package core

import (
	"context"
	"log/slog"
	"time"
)

// Default cadences
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultGCInterval   = time.Second
)

type intervals struct {
	tick, gc time.Duration
}

// Runner drives a core: a tick on one ticker, a GC sweep on another.
type Runner struct {
	core   *Core
	logger *slog.Logger
	now    func() time.Time
	reset  chan intervals

	tickEvery time.Duration
	gcEvery   time.Duration
}

// NewRunner creates a runner. Zero intervals use the defaults.
func NewRunner(c *Core, tickEvery, gcEvery time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if tickEvery <= 0 {
		tickEvery = DefaultTickInterval
	}
	if gcEvery <= 0 {
		gcEvery = DefaultGCInterval
	}
	return &Runner{
		core:      c,
		logger:    logger.With("component", "runner"),
		now:       time.Now,
		reset:     make(chan intervals, 1),
		tickEvery: tickEvery,
		gcEvery:   gcEvery,
	}
}

// SetIntervals changes the cadences of a running loop. Zero keeps the
// current value.
func (r *Runner) SetIntervals(tickEvery, gcEvery time.Duration) {
	select {
	case <-r.reset:
	default:
	}
	r.reset <- intervals{tick: tickEvery, gc: gcEvery}
}

// Run ticks until ctx is cancelled. It then closes the ingest queues so
// late pushes fail instead of being lost, and applies whatever is still
// queued.
func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.tickEvery)
	defer tick.Stop()
	sweep := time.NewTicker(r.gcEvery)
	defer sweep.Stop()

	r.logger.Info("started", "tick", r.tickEvery, "gc", r.gcEvery)
	for {
		select {
		case <-ctx.Done():
			r.core.Registry().Close()
			r.core.Tick(context.WithoutCancel(ctx), r.now())
			r.logger.Info("stopped")
			return nil
		case <-tick.C:
			r.core.Tick(ctx, r.now())
		case <-sweep.C:
			r.core.Sweep(ctx, r.now())
		case iv := <-r.reset:
			if iv.tick > 0 && iv.tick != r.tickEvery {
				r.tickEvery = iv.tick
				tick.Reset(iv.tick)
			}
			if iv.gc > 0 && iv.gc != r.gcEvery {
				r.gcEvery = iv.gc
				sweep.Reset(iv.gc)
			}
			r.logger.Info("intervals updated", "tick", r.tickEvery, "gc", r.gcEvery)
		}
	}
}
