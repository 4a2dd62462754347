package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter ships SpanTrees to an OTLP gRPC collector. A zero-value
// *Exporter (as returned when OTEL_EXPORTER_OTLP_ENDPOINT is unset) is a
// no-op: the aggregator always builds a SpanTree, but nothing is shipped
// anywhere unless a backend is configured — no telemetry backend is
// mandated, per §4.4.1.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewExporter builds an Exporter wired to endpoint, or returns nil if
// endpoint is empty. Mirrors original_source's otel_tracer.py: a
// TracerProvider with a Resource naming the service, an OTLP/gRPC span
// exporter, and a BatchSpanProcessor.
func NewExporter(ctx context.Context, endpoint string) (*Exporter, error) {
	if endpoint == "" {
		return nil, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(envOr("OTEL_SERVICE_NAME", "ingest-dispatch")),
		attribute.String("service.namespace", "ingest"),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	return &Exporter{provider: provider, tracer: provider.Tracer("ingest-dispatch/tracing")}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Export renders a SpanTree into real OTel spans and flushes it through the
// configured exporter. A nil Exporter makes this a no-op so callers never
// need to branch on whether telemetry is configured.
func (e *Exporter) Export(ctx context.Context, tree *SpanTree) error {
	if e == nil || tree == nil {
		return nil
	}

	parentCtx := trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tree.Parent.TraceID,
		SpanID:     tree.Parent.SpanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	_, parentSpan := e.tracer.Start(parentCtx, tree.Parent.Name,
		trace.WithTimestamp(nsToTime(tree.Parent.Start)))
	for _, ev := range tree.Parent.Events {
		parentSpan.AddEvent(ev.Name, trace.WithTimestamp(nsToTime(ev.At)))
	}
	parentSpan.End(trace.WithTimestamp(nsToTime(tree.Parent.End)))

	childCtx := trace.ContextWithSpan(ctx, parentSpan)
	for _, child := range tree.Children {
		_, span := e.tracer.Start(childCtx, child.Name, trace.WithTimestamp(nsToTime(child.Start)))
		for _, ev := range child.Events {
			span.AddEvent(ev.Name, trace.WithTimestamp(nsToTime(ev.At)))
		}
		span.End(trace.WithTimestamp(nsToTime(child.End)))
	}

	return nil
}

// Shutdown flushes and tears down the underlying TracerProvider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.provider.Shutdown(shutCtx)
}

func nsToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
