package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the number of events an Emitter queues before it
// starts dropping.
const DefaultBufferSize = 256

// Option configures an Emitter.
type Option func(*Emitter)

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.size = n
		}
	}
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Emitter fans events out to sinks asynchronously. A nil *Emitter is valid
// and discards everything.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
	size   int

	events  chan Event
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewEmitter starts an Emitter delivering to sinks. Call Close to flush.
func NewEmitter(sinks []Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sinks:  sinks,
		logger: slog.Default(),
		size:   DefaultBufferSize,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.events = make(chan Event, e.size)
	go e.run()
	return e
}

// Emit queues an event. It never blocks.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.closeMu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.closeMu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.events {
		for _, sink := range e.sinks {
			e.deliver(sink, ev)
		}
	}
}

func (e *Emitter) deliver(sink Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("telemetry sink panicked", "kind", ev.Kind, "name", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	if err := sink.Handle(context.Background(), ev); err != nil {
		e.logger.Debug("telemetry sink failed", "kind", ev.Kind, "name", ev.Name, "error", err)
	}
}
