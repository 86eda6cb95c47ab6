package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the OpenTelemetry tracer name.
const TracerName = "opcuactl"

// StartCall starts a client span for one service request.
func StartCall(ctx context.Context, service string, handle uint32, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "opcua."+service,
		trace.WithAttributes(
			attribute.String("opcua.service", service),
			attribute.Int64("opcua.request_handle", int64(handle)),
			attribute.String("opcua.endpoint", endpoint),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartConnect starts a span covering dial, HELLO and secure channel open.
func StartConnect(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "opcua.connect",
		trace.WithAttributes(attribute.String("opcua.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan records the outcome status and ends the span.
func EndSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("opcua.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
