package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/kook-mirror-service/internal/domain/event"
)

// Watch merges the topics of kinds into one transient stream that ends with ctx.
// The receiver must Ack every message it takes.
func Watch(ctx context.Context, p Provider, kinds []event.EventKind) (<-chan *message.Message, error) {
	sub, err := p.Subscriber(SubscriberConfig{Queue: "watch." + watermill.NewShortUUID()})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	var wg sync.WaitGroup

	for _, kind := range kinds {
		topic := event.RoutingPrefix + kind.String()
		msgs, err := sub.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("watch %s: %w", topic, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
				}
			}
		}()
	}

	go func() {
		defer cancel()
		<-ctx.Done()
		wg.Wait()
		close(out)
	}()
	return out, nil
}
