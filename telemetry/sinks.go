package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// LogSink writes events as structured log records. Error events are logged
// at warn level, everything else at debug.
type LogSink struct {
	Logger *slog.Logger
}

// Handle implements Sink.
func (s LogSink) Handle(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if e.Kind == KindError {
		level = slog.LevelWarn
	}

	args := make([]any, 0, 2*len(e.Attrs)+2)
	args = append(args, "kind", e.Kind)
	for k, v := range e.Attrs {
		args = append(args, k, v)
	}
	logger.Log(ctx, level, "ckp "+e.Name, args...)
	return nil
}

// OTelSink records every event as a zero-duration span and counts events
// per kind and name.
type OTelSink struct {
	tracer trace.Tracer
	events metric.Int64Counter
}

// NewOTelSink builds an OTelSink. Either tracer or meter may be nil.
func NewOTelSink(tracer trace.Tracer, meter metric.Meter) (*OTelSink, error) {
	s := &OTelSink{tracer: tracer}
	if meter != nil {
		counter, err := meter.Int64Counter(
			"ckp.events",
			metric.WithDescription("Number of CKP runtime events"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create event counter: %w", err)
		}
		s.events = counter
	}
	return s, nil
}

// Handle implements Sink.
func (s *OTelSink) Handle(ctx context.Context, e Event) error {
	attrs := make([]attribute.KeyValue, 0, len(e.Attrs)+1)
	attrs = append(attrs, attribute.String("ckp.kind", e.Kind))
	for k, v := range e.Attrs {
		attrs = append(attrs, toAttribute("ckp."+k, v))
	}

	if s.tracer != nil {
		_, span := s.tracer.Start(ctx, "ckp."+e.Kind+"."+e.Name,
			trace.WithTimestamp(e.Time),
			trace.WithAttributes(attrs...),
		)
		if e.Kind == KindError {
			span.SetStatus(codes.Error, e.Name)
		}
		span.End(trace.WithTimestamp(e.Time))
	}

	if s.events != nil {
		s.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("ckp.kind", e.Kind),
			attribute.String("ckp.name", e.Name),
		))
	}
	return nil
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}
