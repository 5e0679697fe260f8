package dboxmap

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerOnce sync.Once
	tracer     trace.Tracer
)

// getTracer lazily builds a local, no-exporter SDK tracer provider: real
// go.opentelemetry.io/otel/sdk/trace span lifecycles (start, attributes,
// end) without requiring an OTLP collector endpoint, which would be an
// awkward dependency for an embeddable storage library.
func getTracer() trace.Tracer {
	tracerOnce.Do(func() {
		provider := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(provider)
		tracer = provider.Tracer("github.com/cobaltmail/dboxmap")
	})
	return tracer
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return getTracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
