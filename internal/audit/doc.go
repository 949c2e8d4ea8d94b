// Package audit relays session lifecycle events to a sink off the request path.
//
// # Components
//
//   - [Sink] is the consumer interface (channel, JSON lines, slog, no-op).
//   - [Dispatcher] is a buffered async relay that either drops or blocks when full.
//   - [Event] is one record: time, type, user, device, refresh record, IP, outcome.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The Engine decides which events
// exist and when they fire.
//
// # What this package must NOT do
//
//   - Filter events based on business rules.
//   - Import goSession or any sibling internal package.
//   - Carry token material. Events name records by id only.
package audit
