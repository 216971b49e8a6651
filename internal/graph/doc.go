// Package graph holds the truth graph: nodes, aggregated edges, optional raw
// edges, and per-node adjacency lists.
//
// # Aggregation
//
// Edges are stored by (from, to, class). Every UpsertEdge for an existing
// key increments its count and replaces the last payload, so a burst of
// identical relations costs one record. Raw edges are kept only in raw
// mode and are bounded per key.
//
// # Adjacency
//
// Each node holds references (edge key + direction) to its live edges.
// Lists are updated on every edge insert and removal and are never rebuilt
// from the edge table. Neighbors and EdgesFor cost O(degree).
//
// # Expiry indices
//
// Active nodes are indexed by last-seen time and tombstoned nodes by
// removal time, so a GC sweep only touches nodes that are actually due.
//
// # Determinism
//
// The model never reads the wall clock. Timestamps come from the
// Incoming being applied, so the same ordered deltas always produce the
// same graph (see Digest).
package graph
