package chaosproxy

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentchaos/chaosproxy/pkg/defaults"
)

// Telemetry owns the tracer provider lifecycle: init at start, flush on
// shutdown.
type Telemetry struct {
	provider *sdktrace.TracerProvider
}

// SetupTelemetry builds a tracer provider. With an OTLP endpoint spans go
// to the collector over gRPC; otherwise they go to stderr as one-line
// JSON, which demo runs grep.
func SetupTelemetry(ctx context.Context, endpoint string) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(defaults.ToolName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return &Telemetry{provider: provider}, nil
}

// Tracer returns the flow tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.provider.Tracer(defaults.ToolName)
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
