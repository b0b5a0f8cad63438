// Package audit implements the append-only audit trail: the [Event] model,
// async dispatch and delivery to a durable [Store].
//
// # Components
//
//   - [Sink]: interface for event consumers (store, channel, JSON writer, no-op, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [StoreSink]: persists events with a bounded timeout; failures are logged, never returned.
//
// This package does NOT decide which events to emit; the Engine does.
package audit
