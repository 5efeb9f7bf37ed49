package events

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/webitel/kook-mirror-service/internal/handler/events")

// [TRACE_ID_MIDDLEWARE]
// Frames from the gateway carry a trace id; anything published by hand gets one here.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(pubsub.MetadataTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set(pubsub.MetadataTraceID, traceID)
		}
		msg.SetContext(pubsub.WithTraceID(msg.Context(), traceID))
		return h(msg)
	}
}

// [SPAN_MIDDLEWARE]
// One span per delivery attempt, so retries show up as siblings.
func SpanMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := tracer.Start(msg.Context(), "raw_event.apply")
		defer span.End()
		span.SetAttributes(
			attribute.String("messaging.message.id", msg.UUID),
			attribute.String("kook.sn", msg.Metadata.Get(pubsub.MetadataSN)),
			attribute.String("trace_id", msg.Metadata.Get(pubsub.MetadataTraceID)),
		)
		msg.SetContext(ctx)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// [LOGGING_MIDDLEWARE]
// Successes are debug noise; failures are what the retry and poison layers act on.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := []any{
				"msg_id", msg.UUID,
				"sn", msg.Metadata.Get(pubsub.MetadataSN),
				"trace_id", msg.Metadata.Get(pubsub.MetadataTraceID),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("RAW_EVENT_FAILED", append(attrs, "err", err)...)
			} else {
				logger.Debug("RAW_EVENT_APPLIED", attrs...)
			}
			return msgs, err
		}
	}
}

// [RETRY_MIDDLEWARE]
// Only lane failures reach here (shutdown), so a short backoff is enough.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(attempt int, delay time.Duration) {
			logger.Warn("RAW_EVENT_RETRY", "attempt", attempt, "delay_ms", delay.Milliseconds())
		},
	}
}
