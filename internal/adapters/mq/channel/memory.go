package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/workload/pkg/metrics"
)

const defaultCapacity = 10_000

// InMemoryBroker keeps one bounded buffered channel per destination.
// Publishing never blocks: a full destination returns ErrFull.
type InMemoryBroker struct {
	capacity int
	queues   map[Destination]chan Delivery

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryBroker creates queues for every known destination.
func NewInMemoryBroker(opts ...MemoryOption) *InMemoryBroker {
	b := &InMemoryBroker{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(b)
	}

	b.queues = make(map[Destination]chan Delivery, len(Destinations()))
	for _, d := range Destinations() {
		b.queues[d] = make(chan Delivery, b.capacity)
		metrics.UpdateChannelCapacity(d.String(), b.capacity)
		metrics.UpdateChannelDepth(d.String(), 0)
	}
	return b
}

// Publish enqueues msg, filling in a missing id and timestamp.
func (b *InMemoryBroker) Publish(ctx context.Context, msg Message) error {
	q, ok := b.queues[msg.Destination]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDestination, msg.Destination)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		metrics.RecordPublishError(msg.Destination.String(), "closed")
		return ErrClosed
	}

	select {
	case q <- NewDelivery(msg, nil):
		metrics.RecordPublish(msg.Destination.String())
		metrics.UpdateChannelDepth(msg.Destination.String(), len(q))
		return nil
	case <-ctx.Done():
		metrics.RecordPublishError(msg.Destination.String(), "context_cancelled")
		return fmt.Errorf("%w: %w", ErrPublish, ctx.Err())
	default:
		metrics.RecordPublishError(msg.Destination.String(), "full")
		return fmt.Errorf("%w: %s", ErrFull, msg.Destination)
	}
}

// Subscribe returns a channel fed from dest's queue. Subscribers of one
// destination compete for messages. A message taken from the queue but not
// yet handed over when ctx ends goes back to the tail of the queue.
func (b *InMemoryBroker) Subscribe(ctx context.Context, dest Destination) (<-chan Delivery, error) {
	q, ok := b.queues[dest]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, dest)
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			// Checked first so a cancelled subscriber stops taking messages.
			if ctx.Err() != nil {
				return
			}
			select {
			case d, ok := <-q:
				if !ok {
					return
				}
				metrics.UpdateChannelDepth(dest.String(), len(q))
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(dest, q, d)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// requeue returns an undelivered message to q. It reports false when the
// broker is closed or the queue has no room, in which case d is lost.
func (b *InMemoryBroker) requeue(dest Destination, q chan Delivery, d Delivery) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.closed {
		select {
		case q <- d:
			metrics.UpdateChannelDepth(dest.String(), len(q))
			return true
		default:
		}
	}
	metrics.RecordErrorByComponent("memory_broker", "requeue")
	return false
}

// Depth returns the number of messages waiting on dest.
func (b *InMemoryBroker) Depth(dest Destination) int {
	q, ok := b.queues[dest]
	if !ok {
		return 0
	}
	n := len(q)
	metrics.UpdateChannelDepth(dest.String(), n)
	return n
}

// Close stops accepting messages. Waiting messages are still delivered to
// active subscribers, after which their channels close.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for _, q := range b.queues {
		close(q)
	}
	b.closed = true
	return nil
}

// IsClosed returns true if the broker has been closed.
func (b *InMemoryBroker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
