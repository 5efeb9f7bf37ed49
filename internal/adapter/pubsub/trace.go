package pubsub

import "context"

const (
	// MetadataTraceID is the message metadata key carrying the trace id across hops.
	MetadataTraceID = "trace_id"
	// MetadataSN is the gateway session sequence number of a raw event.
	MetadataSN = "sn"
)

type traceIDKey struct{}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace id bound to ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
