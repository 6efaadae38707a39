package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

// PublisherConfig is the subset of broker settings the ops event bus
// needs; the rest (prefetch, consumer groups) is irrelevant here since
// this control plane only ever publishes, it never consumes.
type PublisherConfig struct {
	AmqpURI  string
	Exchange string
}

// NewPublisher builds a durable pub/sub publisher over AMQP from
// watermill-amqp's NewDurablePubSubConfig; cfg.Exchange is not used.
// Declining to configure one (empty AmqpURI) is valid: callers get a
// no-op publisher instead of a startup error, since the ops bus is an
// optional supplemental feature (SPEC_FULL.md §4), not part of the
// scheduler-to-server protocol.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if cfg.AmqpURI == "" {
		return noopPublisher{}, nil
	}

	amqpConfig := amqp.NewDurablePubSubConfig(cfg.AmqpURI, amqp.GenerateQueueNameTopicName)
	return amqp.NewPublisher(amqpConfig, logger)
}

// noopPublisher discards every message; used when no broker is
// configured so the rest of the app doesn't need a nil check.
type noopPublisher struct{}

func (noopPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (noopPublisher) Close() error                                             { return nil }
