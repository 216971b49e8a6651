// Package domain defines the value types shared by every part of spacegraph.
//
// # Identity
//
// Every source (agent) is a namespace identified by a NodeKey. Sources name
// their entities with LocalIDs, which are only unique inside that namespace.
// GlobalID pairs the two and is the only identifier used once a delta has
// crossed the ingest boundary, so two hosts reporting pid 42 never collide.
//
// # Nodes and Edges
//
// Node is an observed entity (process, file, user, host, container) with
// lifecycle timestamps. RawEdge is one reported relation; AggEdge collapses
// raw edges of the same class between the same ordered pair and keeps
// count and timing statistics.
//
// # Deltas
//
// Delta is a closed set of mutations (UpsertNode, RemoveNode, UpsertEdge,
// RemoveEdge, BatchOpen, BatchClose). Incoming wraps a delta with its
// source, per-source arrival sequence, and ingest timestamp.
package domain
