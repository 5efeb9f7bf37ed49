package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/service"
)

// Applier is the consumer side of the raw event topic.
type Applier interface {
	Apply(ctx context.Context, raw *model.RawEvent) error
}

var _ Applier = (*service.Applier)(nil)

type RawEventHandler struct {
	applier Applier
	logger  *slog.Logger
}

func NewRawEventHandler(applier Applier, logger *slog.Logger) *RawEventHandler {
	return &RawEventHandler{applier: applier, logger: logger.With("component", "raw_event_handler")}
}

// OnRawEvent feeds one gateway frame into the cache.
func (h *RawEventHandler) OnRawEvent(ctx context.Context, raw *model.RawEvent) error {
	if err := h.applier.Apply(ctx, raw); err != nil {
		return fmt.Errorf("apply %s: %w", raw.MsgID, err)
	}
	return nil
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
}

// [REGISTRATION_PIPELINE]
func (h *RawEventHandler) RegisterHandlers(router *message.Router, provider pubsub.Provider) error {
	poison, err := middleware.PoisonQueue(provider.Publisher(), pubsub.PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		queue   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_RAW_EVENT", pubsub.TopicRawEvents, pubsub.ApplierQueue, Bind(h, h.OnRawEvent)},
	}

	for _, c := range configs {
		sub, err := provider.Subscriber(pubsub.SubscriberConfig{Queue: c.queue, Durable: true})
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			SpanMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.logger).Middleware,
			poison,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("EVENT_PIPELINE_READY", "queue", pubsub.ApplierQueue)
	return nil
}
