// Package timeline keeps a bounded history of applied deltas and the virtual
// clock used to look back through it.
//
// Events live in a fixed-capacity ring ordered by apply sequence. When the
// ring is full the oldest event is overwritten; history is only used for
// display and for reconstructing the lifespan of purged nodes.
//
// Every windowed query (worldlines, events in window, batch spans) is
// evaluated at Clock.Now, which is the frozen instant minus the scrub
// offset while paused.
package timeline
