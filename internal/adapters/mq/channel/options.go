package channel

import (
	"time"

	"github.com/okian/workload/pkg/logger"
)

// MemoryOption applies a configuration option to the InMemoryBroker.
type MemoryOption func(*InMemoryBroker)

// WithCapacity sets the maximum number of waiting messages per destination.
func WithCapacity(capacity int) MemoryOption {
	return func(b *InMemoryBroker) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// KafkaOption applies a configuration option to the KafkaBroker.
type KafkaOption func(*KafkaBroker)

// WithTopicPrefix prepends prefix to every destination's topic name.
func WithTopicPrefix(prefix string) KafkaOption {
	return func(b *KafkaBroker) {
		b.topicPrefix = prefix
	}
}

// WithGroupID sets the consumer group of subscriptions.
func WithGroupID(groupID string) KafkaOption {
	return func(b *KafkaBroker) {
		if groupID != "" {
			b.groupID = groupID
		}
	}
}

// WithReaderFactory replaces how readers are created for a topic.
func WithReaderFactory(fn func(topic string) Reader) KafkaOption {
	return func(b *KafkaBroker) {
		if fn != nil {
			b.newReader = fn
		}
	}
}

// WithWriterFactory replaces how writers are created for a topic.
func WithWriterFactory(fn func(topic string) Writer) KafkaOption {
	return func(b *KafkaBroker) {
		if fn != nil {
			b.newWriter = fn
		}
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) KafkaOption {
	return func(b *KafkaBroker) {
		if d > 0 {
			b.fetchBackoff = d
		}
	}
}

// WithKafkaLogger sets a custom logger for the broker.
func WithKafkaLogger(l logger.Logger) KafkaOption {
	return func(b *KafkaBroker) {
		if l != nil {
			b.logger = l
		}
	}
}
