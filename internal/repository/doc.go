// Package repository defines the trace store of spacegraph.
//
// The graph itself is never persisted. What is stored is the ordered log
// of deltas each tick applied, so a session can be replayed into an
// identical graph or exported as a compressed trace file.
//
// The sqlite subpackage implements TraceStore on modernc.org/sqlite.
package repository
