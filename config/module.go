package config

import (
	"github.com/pbspro/sched-ctl/internal/adapter/pubsub"
)

// NewPublisherConfig adapts Config to the pubsub package's narrower
// config shape, keeping that package ignorant of the rest of the
// daemon's flags.
func NewPublisherConfig(cfg *Config) pubsub.PublisherConfig {
	return pubsub.PublisherConfig{AmqpURI: cfg.AmqpURI, Exchange: "sched.events"}
}
