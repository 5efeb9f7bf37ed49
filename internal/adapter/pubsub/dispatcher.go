package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/kook-mirror-service/internal/domain/event"
	"github.com/webitel/kook-mirror-service/internal/service"
)

// EventDispatcher is the bus-backed Processor of derived domain events.
type EventDispatcher interface {
	service.Processor
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
	// nil means every kind is subscribed
	kinds  map[event.EventKind]struct{}
	logger *slog.Logger
}

// NewEventDispatcher publishes to pub. subscribe lists kind names; unknown names are
// logged and ignored, an empty list subscribes to everything.
func NewEventDispatcher(pub message.Publisher, subscribe []string, logger *slog.Logger) EventDispatcher {
	d := &eventDispatcher{
		publisher: pub,
		logger:    logger.With("component", "event_dispatcher"),
	}
	if len(subscribe) == 0 {
		return d
	}
	d.kinds = make(map[event.EventKind]struct{}, len(subscribe))
	for _, name := range subscribe {
		kind, ok := event.ParseKind(name)
		if !ok {
			d.logger.Warn("UNKNOWN_EVENT_KIND_IGNORED", "kind", name)
			continue
		}
		d.kinds[kind] = struct{}{}
	}
	return d
}

func (d *eventDispatcher) Subscribed(kind event.EventKind) bool {
	if d.kinds == nil {
		return true
	}
	_, ok := d.kinds[kind]
	return ok
}

func (d *eventDispatcher) Push(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}
	exp, ok := ev.(event.Exportable)
	if !ok || exp.GetRoutingKey() == "" {
		return nil
	}
	topic := exp.GetRoutingKey()

	payload, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", ev.GetKind().String())
	msg.Metadata.Set("guild_id", ev.GetGuildID())
	if traceID := TraceID(ctx); traceID != "" {
		msg.Metadata.Set(MetadataTraceID, traceID)
	}
	msg.SetContext(ctx)

	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	d.logger.Debug("EVENT_PUBLISHED", "topic", topic, "event_id", ev.GetID())
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
