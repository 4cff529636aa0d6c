package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrStreamKey      = attribute.Key("omni.stream_key")
	AttrChannel        = attribute.Key("omni.channel")
	AttrDirection      = attribute.Key("omni.direction")
	AttrIdempotencyKey = attribute.Key("omni.idempotency_key")
	AttrAttempts       = attribute.Key("omni.attempts")
	AttrEntryID        = attribute.Key("omni.entry_id")
	AttrTransport      = attribute.Key("omni.transport")
)

func StartPublishSpan(ctx context.Context, streamKey, channel, direction string) (context.Context, trace.Span) {
	return GetTracer("omni-publisher").Start(ctx, "publisher.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrStreamKey.String(streamKey),
			AttrChannel.String(channel),
			AttrDirection.String(direction),
		),
	)
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the hex trace id of the active span, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
