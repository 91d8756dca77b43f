package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Handle(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Name)
	}
	return out
}

func TestEmitterDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	em := NewEmitter([]Sink{sink})

	em.Emit(Event{Kind: KindLifecycle, Name: "a"})
	em.Emit(Event{Kind: KindLifecycle, Name: "b"})
	em.Emit(Event{Kind: KindError, Name: "c"})
	require.NoError(t, em.Close(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, sink.names())
	for _, e := range sink.events {
		assert.False(t, e.Time.IsZero())
	}

	// Emitting after close is silently ignored.
	em.Emit(Event{Kind: KindLifecycle, Name: "late"})
	assert.Len(t, sink.names(), 3)
}

func TestEmitterSurvivesFailingSinks(t *testing.T) {
	good := &recordingSink{}
	sinks := []Sink{
		SinkFunc(func(context.Context, Event) error { panic("boom") }),
		SinkFunc(func(context.Context, Event) error { return errors.New("unavailable") }),
		good,
	}
	em := NewEmitter(sinks, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	em.Emit(Event{Kind: KindError, Name: "x"})
	require.NoError(t, em.Close(context.Background()))
	assert.Equal(t, []string{"x"}, good.names())
}

func TestEmitterDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	em := NewEmitter([]Sink{blocking}, WithBufferSize(1))

	start := time.Now()
	for i := 0; i < 20; i++ {
		em.Emit(Event{Kind: KindHeartbeat, Name: "tick"})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, em.Dropped(), int64(0))

	close(release)
	require.NoError(t, em.Close(context.Background()))
}

func TestNilEmitter(t *testing.T) {
	var em *Emitter
	em.Emit(Event{Kind: KindLifecycle})
	assert.Equal(t, int64(0), em.Dropped())
	assert.NoError(t, em.Close(context.Background()))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := LogSink{Logger: logger}
	require.NoError(t, sink.Handle(context.Background(), Event{
		Kind:  KindError,
		Name:  "illegal_state",
		Attrs: map[string]any{"method": "claw.status"},
	}))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "ckp illegal_state")
	assert.Contains(t, out, "method=claw.status")
}

func TestOTelSink(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	sink, err := NewOTelSink(tp.Tracer("test"), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	require.NoError(t, sink.Handle(context.Background(), Event{
		Kind: KindLifecycle,
		Name: "transition",
		Time: time.Now(),
		Attrs: map[string]any{
			"from":  "INIT",
			"to":    "STARTING",
			"level": 2,
		},
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ckp.lifecycle.transition", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "INIT", attrs["ckp.from"])
	assert.Equal(t, "STARTING", attrs["ckp.to"])
	assert.Equal(t, "2", attrs["ckp.level"])
}

func TestOTelSinkWithoutInstruments(t *testing.T) {
	sink, err := NewOTelSink(nil, nil)
	require.NoError(t, err)
	assert.NoError(t, sink.Handle(context.Background(), Event{Kind: KindTool, Name: "executed"}))
}
