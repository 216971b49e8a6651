// Package ingest turns raw connection messages into ordered deltas.
//
// Each connection gets a Session that performs the identity handshake,
// decodes and validates messages, and pushes deltas onto the bounded
// Queue of its source. The Registry owns the queues and hands the core a
// deterministic drain order on every tick.
package ingest
