package serve

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the runtime's tracer.
const TracerName = "github.com/angelgalvisc/clawkernel"

// NewTracerProvider creates a TracerProvider that batches spans to exporter
// and describes the agent as the service. A nil exporter yields a provider
// that records spans without exporting them, which still gives telemetry
// sinks valid span contexts.
//
// Call Shutdown on the provider to flush pending spans.
func NewTracerProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter, logger *slog.Logger) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// NewTracer returns the runtime's tracer from tp.
func NewTracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer(TracerName)
}
