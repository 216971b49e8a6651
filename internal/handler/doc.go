// Package handler is the HTTP boundary of spacegraph.
//
// GraphHandler serves the JSON query API over a service.GraphService:
// neighbors, edges, labels, worldlines, explain, the visible set, timeline
// windows and clock control, pins, search, stats, and fragment import and
// export. Node ids travel as "key/local" strings, in the id query parameter
// or as the trailing path of the pin routes.
//
// IngestHandler accepts agent websocket connections on /ingest and runs one
// ingest.Session per connection.
//
// Errors are returned as JSON with an {error, details} body. Unknown nodes
// map to 404, malformed ids and parameters to 400, scrubbing a live clock
// to 409.
package handler
