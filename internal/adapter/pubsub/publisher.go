package pubsub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/kook-mirror-service/config"
)

const (
	// ------------------- TOPICS -------------------
	TopicRawEvents = "kook.raw-events"
	PoisonTopic    = "kook.raw-events.poison"

	// ------------------- QUEUES -------------------
	ApplierQueue = "kook-mirror.applier.v1"
)

// SubscriberConfig describes one consumer binding.
type SubscriberConfig struct {
	// Queue is appended to the topic to name the broker queue.
	Queue string
	// Durable queues survive restarts; watchers use transient ones.
	Durable bool
}

// Provider builds the publisher and subscribers of one transport.
//
// [STRATEGY]
//   - in-process: a single gochannel serves every topic (default);
//   - amqp: one publisher, one subscriber per binding, when broker.url is set.
type Provider interface {
	Publisher() message.Publisher
	Subscriber(cfg SubscriberConfig) (message.Subscriber, error)
	Close() error
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) (Provider, error) {
	if cfg.Broker.URL == "" {
		return NewChannelProvider(logger), nil
	}
	return NewAMQPProvider(cfg.Broker.URL, logger)
}

// --- IN-PROCESS ---

type channelProvider struct {
	ch *gochannel.GoChannel
}

func NewChannelProvider(logger watermill.LoggerAdapter) Provider {
	return &channelProvider{
		ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
	}
}

func (p *channelProvider) Publisher() message.Publisher { return p.ch }

func (p *channelProvider) Subscriber(SubscriberConfig) (message.Subscriber, error) {
	return p.ch, nil
}

func (p *channelProvider) Close() error { return p.ch.Close() }

// --- AMQP ---

type amqpProvider struct {
	url       string
	logger    watermill.LoggerAdapter
	publisher *amqp.Publisher

	mu          sync.Mutex
	subscribers []*amqp.Subscriber
}

func NewAMQPProvider(url string, logger watermill.LoggerAdapter) (Provider, error) {
	pub, err := amqp.NewPublisher(amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName), logger)
	if err != nil {
		return nil, fmt.Errorf("AMQP_PUBLISHER_INIT_FAILED: %w", err)
	}
	return &amqpProvider{url: url, logger: logger, publisher: pub}, nil
}

func (p *amqpProvider) Publisher() message.Publisher { return p.publisher }

func (p *amqpProvider) Subscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	names := amqp.GenerateQueueNameTopicNameWithSuffix(cfg.Queue)
	amqpCfg := amqp.NewNonDurablePubSubConfig(p.url, names)
	if cfg.Durable {
		amqpCfg = amqp.NewDurablePubSubConfig(p.url, names)
	}

	sub, err := amqp.NewSubscriber(amqpCfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("AMQP_SUBSCRIBER_INIT_FAILED: queue %s: %w", cfg.Queue, err)
	}

	p.mu.Lock()
	p.subscribers = append(p.subscribers, sub)
	p.mu.Unlock()
	return sub, nil
}

func (p *amqpProvider) Close() error {
	p.mu.Lock()
	subs := p.subscribers
	p.subscribers = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}
	errs = append(errs, p.publisher.Close())
	return errors.Join(errs...)
}
