// Package telemetry carries fire-and-forget runtime events to pluggable
// sinks.
//
// Emitting never blocks the caller and a failing or panicking sink never
// reaches the runtime: events are queued on a bounded buffer, delivered by a
// single goroutine and dropped when the buffer is full.
package telemetry

import (
	"context"
	"time"
)

// Event kinds.
const (
	KindLifecycle = "lifecycle"
	KindError     = "error"
	KindTool      = "tool"
	KindHeartbeat = "heartbeat"
)

// Event is one telemetry record.
type Event struct {
	// Kind groups events, one of the Kind* constants.
	Kind string

	// Name identifies the event within its kind, for example
	// "transition" or "gate_denied".
	Name string

	// Time is filled in by the Emitter when zero.
	Time time.Time

	// Attrs holds event-specific attributes. Values should be strings,
	// bools, ints, int64s or float64s so every sink can render them.
	Attrs map[string]any
}

// Sink consumes events. Handle is called from the emitter goroutine only.
type Sink interface {
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }
