package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelgalvisc/clawkernel/telemetry"
)

func TestNewTracerProvider(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewTracerProvider("researcher", "1.2.3", exporter, nil)

	ctx, span := NewTracer(tp).Start(context.Background(), "claw.tool.call")
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "claw.tool.call", spans[0].Name)
	assert.Equal(t, TracerName, spans[0].InstrumentationScope.Name)

	attrs := spans[0].Resource.Attributes()
	assert.Contains(t, attrs, semconv.ServiceNameKey.String("researcher"))
	assert.Contains(t, attrs, semconv.ServiceVersionKey.String("1.2.3"))

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderWithoutExporter(t *testing.T) {
	tp := NewTracerProvider("researcher", "1.2.3", nil, nil)
	defer tp.Shutdown(context.Background())

	ctx, span := NewTracer(tp).Start(context.Background(), "noop")
	defer span.End()
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestLogSpanExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogSpanExporter(logger, slog.LevelDebug)))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child", trace.WithAttributes(attribute.String("tool", "echo"), attribute.Int("attempt", 2)))
	child.RecordError(errors.New("boom"))
	child.SetStatus(codes.Error, "boom")
	child.End()
	parent.End()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "span", rec["msg"])
	assert.Equal(t, "child", rec["name"])
	assert.Equal(t, "error", rec["status"])
	assert.Equal(t, "boom", rec["status_message"])
	assert.NotEmpty(t, rec["parent_span_id"])
	assert.Equal(t, map[string]any{"tool": "echo", "attempt": "2"}, rec["attributes"])

	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "parent", rec["name"])
}

func TestLogSpanExporterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	exporter := NewLogSpanExporter(logger, slog.LevelDebug)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "quiet")
	span.End()
	assert.Empty(t, buf.String())
}

func TestTracerFeedsOTelSink(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewTracerProvider("researcher", "1.0.0", exporter, nil)

	sink, err := telemetry.NewOTelSink(NewTracer(tp), nil)
	require.NoError(t, err)
	require.NoError(t, sink.Handle(context.Background(), telemetry.Event{
		Kind:  telemetry.KindTool,
		Name:  "call",
		Attrs: map[string]any{"tool": "echo"},
	}))
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ckp.tool.call", spans[0].Name)
}
