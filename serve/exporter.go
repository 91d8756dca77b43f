package serve

import (
	"context"
	"encoding/hex"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var _ sdktrace.SpanExporter = (*LogSpanExporter)(nil)

// LogSpanExporter implements sdktrace.SpanExporter by writing each finished
// span as one structured log record. It never fails the trace pipeline.
type LogSpanExporter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSpanExporter creates an exporter writing to logger at level.
func NewLogSpanExporter(logger *slog.Logger, level slog.Level) *LogSpanExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanExporter{logger: logger, level: level}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !e.logger.Enabled(ctx, e.level) {
		return nil
	}
	for _, span := range spans {
		e.logger.LogAttrs(ctx, e.level, "span", spanAttrs(span)...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

func spanAttrs(span sdktrace.ReadOnlySpan) []slog.Attr {
	sc := span.SpanContext()
	traceID := sc.TraceID()
	spanID := sc.SpanID()

	attrs := []slog.Attr{
		slog.String("name", span.Name()),
		slog.String("trace_id", hex.EncodeToString(traceID[:])),
		slog.String("span_id", hex.EncodeToString(spanID[:])),
		slog.Time("start", span.StartTime()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
	}
	if span.Parent().IsValid() {
		parentID := span.Parent().SpanID()
		attrs = append(attrs, slog.String("parent_span_id", hex.EncodeToString(parentID[:])))
	}
	if status := span.Status(); status.Code == codes.Error {
		attrs = append(attrs, slog.String("status", "error"), slog.String("status_message", status.Description))
	}

	if kvs := span.Attributes(); len(kvs) > 0 {
		fields := make([]any, 0, len(kvs))
		for _, kv := range kvs {
			fields = append(fields, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		attrs = append(attrs, slog.Group("attributes", fields...))
	}
	return attrs
}
