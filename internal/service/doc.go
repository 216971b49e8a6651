// Package service sits between the HTTP handlers and the graph core.
//
// GraphService clamps caller-supplied caps to configured maxima, converts
// between wire formats and graph fragments, and publishes operator actions
// (pins, clock control, imports) on the EventBus. Tick and sweep summaries
// from the core reach the same bus through EventBus.Notify, and from there
// the SSE hub.
package service
