package logging

import (
	"context"
)

const (
	TraceIDKey        = "trace_id"
	RequestIDKey      = "request_id"
	IdempotencyKeyKey = "idempotency_key"
	ChannelKey        = "channel"
	StreamKeyKey      = "stream_key"
	ServiceNameKey    = "service_name"
)

type ctxKey string

// fieldOrder fixes the order in which context fields appear in log lines.
var fieldOrder = []string{
	TraceIDKey,
	RequestIDKey,
	IdempotencyKeyKey,
	ChannelKey,
	StreamKeyKey,
	ServiceNameKey,
}

func with(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey(key), value)
}

func get(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, RequestIDKey, requestID)
}

// WithIdempotencyKey tags every log line of a publish with the message's dedup key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return with(ctx, IdempotencyKeyKey, key)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return with(ctx, ChannelKey, channel)
}

func WithStreamKey(ctx context.Context, streamKey string) context.Context {
	return with(ctx, StreamKeyKey, streamKey)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	return get(ctx, TraceIDKey)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func GetIdempotencyKey(ctx context.Context) string {
	return get(ctx, IdempotencyKeyKey)
}

func GetChannel(ctx context.Context) string {
	return get(ctx, ChannelKey)
}

func GetStreamKey(ctx context.Context) string {
	return get(ctx, StreamKeyKey)
}

func GetServiceName(ctx context.Context) string {
	return get(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(fieldOrder))
	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
