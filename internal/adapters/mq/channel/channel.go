// Package channel carries serialized messages between named destinations.
//
// Two brokers are provided: an in-memory one with bounded per-destination
// queues and a Kafka one with one topic per destination.
package channel

import (
	"context"
	"time"
)

// Destination names a logical queue.
type Destination string

// Destinations used by the workload pipeline.
const (
	TrainerNameRequest Destination = "trainer.name.request"
	TrainerProfile     Destination = "trainer.profile"
	TrainerList        Destination = "trainer.list"
	WorkloadAdd        Destination = "workload.add"
	WorkloadDelete     Destination = "workload.delete"
	DeadLetter         Destination = "workload.dead-letter"
)

// Destinations lists every known destination.
func Destinations() []Destination {
	return []Destination{TrainerNameRequest, TrainerProfile, TrainerList, WorkloadAdd, WorkloadDelete, DeadLetter}
}

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	switch d {
	case TrainerNameRequest, TrainerProfile, TrainerList, WorkloadAdd, WorkloadDelete, DeadLetter:
		return true
	}
	return false
}

func (d Destination) String() string { return string(d) }

// Header keys carried alongside the payload.
const (
	HeaderMessageID   = "message_id"
	HeaderDestination = "destination"
	HeaderContentType = "content_type"
)

// Message is one envelope on a destination.
type Message struct {
	ID          string
	Destination Destination
	// Key groups related messages; brokers keep one key's messages in order.
	Key       string
	Payload   []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Delivery is a received message that must be acknowledged once handled.
type Delivery struct {
	Message
	ack func(ctx context.Context) error
}

// NewDelivery wraps msg with an acknowledgement callback. A nil ack is a no-op.
func NewDelivery(msg Message, ack func(ctx context.Context) error) Delivery {
	return Delivery{Message: msg, ack: ack}
}

// Ack confirms the delivery to the broker.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Broker publishes to and subscribes from destinations.
type Broker interface {
	// Publish sends msg to msg.Destination without blocking on consumers.
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns a channel of deliveries for dest. Several
	// subscriptions to one destination compete for its messages. The channel
	// is closed when ctx is done or the broker is closed.
	Subscribe(ctx context.Context, dest Destination) (<-chan Delivery, error)

	// Depth reports the number of messages waiting on dest, when known.
	Depth(dest Destination) int

	Close() error
}
