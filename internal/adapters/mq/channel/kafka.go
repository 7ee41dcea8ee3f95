package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

const (
	defaultGroupID      = "trainer-workload"
	defaultFetchBackoff = time.Second
)

// Reader exposes the minimal kafka.Reader surface used by subscriptions.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Writer exposes the minimal kafka.Writer surface used by Publish.
type Writer interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaBroker maps each destination to a topic. Writers are created lazily
// per topic and hash messages by key, so one trainer's events share a
// partition. Every subscription is a consumer-group reader; Ack commits.
type KafkaBroker struct {
	brokers      []string
	topicPrefix  string
	groupID      string
	fetchBackoff time.Duration
	newReader    func(topic string) Reader
	newWriter    func(topic string) Writer
	logger       logger.Logger

	mu      sync.Mutex
	writers map[string]Writer
	readers map[Destination][]Reader
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewKafkaBroker creates a broker for the given bootstrap servers.
func NewKafkaBroker(brokers []string, opts ...KafkaOption) *KafkaBroker {
	b := &KafkaBroker{
		brokers:      brokers,
		groupID:      defaultGroupID,
		fetchBackoff: defaultFetchBackoff,
		logger:       logger.Get().Named("kafka-broker"),
		writers:      make(map[string]Writer),
		readers:      make(map[Destination][]Reader),
		done:         make(chan struct{}),
	}
	b.newReader = b.defaultReader
	b.newWriter = b.defaultWriter
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *KafkaBroker) defaultReader(topic string) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         b.brokers,
		GroupID:         b.groupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         500 * time.Millisecond,
		ReadLagInterval: -1,
	})
}

func (b *KafkaBroker) defaultWriter(topic string) Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// Topic returns the topic name of dest.
func (b *KafkaBroker) Topic(dest Destination) string {
	return b.topicPrefix + dest.String()
}

func (b *KafkaBroker) writerFor(topic string) (Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}
	w := b.newWriter(topic)
	b.writers[topic] = w
	return w, nil
}

// Publish writes msg synchronously to its destination topic.
func (b *KafkaBroker) Publish(ctx context.Context, msg Message) error {
	if !msg.Destination.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDestination, msg.Destination)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	w, err := b.writerFor(b.Topic(msg.Destination))
	if err != nil {
		metrics.RecordPublishError(msg.Destination.String(), "closed")
		return err
	}

	if err := w.WriteMessages(ctx, encode(msg)); err != nil {
		metrics.RecordPublishError(msg.Destination.String(), "write")
		metrics.RecordErrorByComponent("kafka_broker", "write")
		return fmt.Errorf("%w: %s: %w", ErrPublish, msg.Destination, err)
	}
	metrics.RecordPublish(msg.Destination.String())
	return nil
}

func encode(msg Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	headers = append(headers,
		kafka.Header{Key: HeaderMessageID, Value: []byte(msg.ID)},
		kafka.Header{Key: HeaderDestination, Value: []byte(msg.Destination)},
	)
	for k, v := range msg.Headers {
		if k == HeaderMessageID || k == HeaderDestination {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	var key []byte
	if msg.Key != "" {
		key = []byte(msg.Key)
	}
	return kafka.Message{Key: key, Value: msg.Payload, Headers: headers, Time: msg.Timestamp}
}

func decode(dest Destination, km kafka.Message) Message {
	msg := Message{
		Destination: dest,
		Key:         string(km.Key),
		Payload:     km.Value,
		Headers:     make(map[string]string, len(km.Headers)),
		Timestamp:   km.Time,
	}
	for _, h := range km.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	msg.ID = msg.Headers[HeaderMessageID]
	if msg.ID == "" {
		// Records written by other producers are identified by position.
		msg.ID = km.Topic + "/" + strconv.Itoa(km.Partition) + "/" + strconv.FormatInt(km.Offset, 10)
	}
	return msg
}

// Subscribe starts a consumer-group reader for dest. Each Ack commits the
// delivered record.
func (b *KafkaBroker) Subscribe(ctx context.Context, dest Destination) (<-chan Delivery, error) {
	if !dest.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, dest)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	r := b.newReader(b.Topic(dest))
	b.readers[dest] = append(b.readers[dest], r)
	b.wg.Add(1)
	b.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer b.wg.Done()
		defer close(out)
		b.consume(ctx, dest, r, out)
	}()
	return out, nil
}

func (b *KafkaBroker) consume(ctx context.Context, dest Destination, r Reader, out chan<- Delivery) {
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error(ctx, "kafka fetch failed",
				logger.String("destination", dest.String()), logger.Error(err))
			metrics.RecordErrorByComponent("kafka_broker", "fetch")
			select {
			case <-time.After(b.fetchBackoff):
				continue
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}

		d := NewDelivery(decode(dest, km), func(ackCtx context.Context) error {
			return r.CommitMessages(ackCtx, km)
		})
		select {
		case out <- d:
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

// Depth is not tracked for Kafka; consumer lag is exported by the cluster.
func (b *KafkaBroker) Depth(Destination) int { return 0 }

// Close closes every reader and writer and waits for subscriptions to end.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)

	var errs []error
	for dest, readers := range b.readers {
		for _, r := range readers {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close reader %s: %w", dest, err))
			}
		}
	}
	for topic, w := range b.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return errors.Join(errs...)
}
