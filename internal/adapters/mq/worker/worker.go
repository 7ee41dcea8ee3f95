// Package worker runs listeners that drain broker destinations into handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/okian/workload/internal/adapters/mq/channel"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

const (
	minListeners        = 1
	maxListeners        = 10
	defaultListeners    = 2
	poolShutdownTimeout = 30 * time.Second
)

// ErrPanic marks a handler that panicked while processing a delivery.
var ErrPanic = errors.New("handler panicked")

// Handler processes one delivery. The listener acknowledges the delivery
// once Handle returns, whatever the result.
type Handler interface {
	Handle(ctx context.Context, d channel.Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d channel.Delivery) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, d channel.Delivery) error {
	return f(ctx, d)
}

// Subscriber is the part of channel.Broker listeners need.
type Subscriber interface {
	Subscribe(ctx context.Context, dest channel.Destination) (<-chan channel.Delivery, error)
}

// Listener consumes one destination sequentially.
type Listener struct {
	broker  Subscriber
	dest    channel.Destination
	handler Handler
	name    string

	cancel   context.CancelFunc
	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewListener creates a listener for dest.
func NewListener(broker Subscriber, dest channel.Destination, handler Handler, opts ...Option) *Listener {
	l := &Listener{
		broker:   broker,
		dest:     dest,
		handler:  handler,
		name:     "listener",
		cancel:   func() {},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("listener"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.name != "listener" {
		l.logger = l.logger.Named(l.name)
	}
	return l
}

// Start subscribes and processes deliveries in a background goroutine
// until ctx is canceled, Shutdown is called or the subscription ends.
func (l *Listener) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	deliveries, err := l.broker.Subscribe(subCtx, l.dest)
	if err != nil {
		cancel()
		close(l.done)
		return fmt.Errorf("subscribe %s: %w", l.dest, err)
	}
	l.cancel = cancel
	go l.run(subCtx, deliveries)
	return nil
}

func (l *Listener) run(ctx context.Context, deliveries <-chan channel.Delivery) {
	defer close(l.done)
	defer l.cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			l.process(ctx, d)
		}
	}
}

// process runs the handler and always acknowledges the delivery.
func (l *Listener) process(ctx context.Context, d channel.Delivery) {
	start := time.Now()
	defer func() {
		metrics.RecordListenerLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := l.safeHandle(ctx, d); err != nil {
		metrics.RecordErrorByComponent("listener", "handler_error")
		l.logger.Error(ctx, "error handling delivery",
			logger.String("destination", l.dest.String()),
			logger.String("message_id", d.ID),
			logger.Error(err),
		)
	}
	if err := d.Ack(ctx); err != nil {
		metrics.RecordErrorByComponent("listener", "ack_error")
		l.logger.Error(ctx, "ack failed",
			logger.String("destination", l.dest.String()),
			logger.String("message_id", d.ID),
			logger.Error(err),
		)
	}
}

func (l *Listener) safeHandle(ctx context.Context, d channel.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordHandlerPanic()
			l.logger.Error(ctx, "handler panic",
				logger.String("destination", l.dest.String()),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return l.handler.Handle(ctx, d)
}

// Shutdown stops the listener after the in-flight delivery completes.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.once.Do(func() { close(l.shutdown) })

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Pool runs a fixed number of listeners per routed destination.
type Pool struct {
	broker         Subscriber
	routes         map[channel.Destination]Handler
	perDestination int
	listeners      []*Listener

	mu      sync.Mutex
	started bool

	logger logger.Logger
}

// NewPool creates a pool over routes.
func NewPool(broker Subscriber, routes map[channel.Destination]Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		broker:         broker,
		routes:         routes,
		perDestination: defaultListeners,
		logger:         logger.Get().Named("listener-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts every listener. A subscription failure stops the listeners
// already started and is returned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	dests := make([]channel.Destination, 0, len(p.routes))
	for d := range p.routes {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, dest := range dests {
		for i := 0; i < p.perDestination; i++ {
			l := NewListener(p.broker, dest, p.routes[dest],
				WithName(dest.String()+"-"+strconv.Itoa(i)),
				WithLogger(p.logger),
			)
			if err := l.Start(ctx); err != nil {
				p.stopLocked(ctx)
				return err
			}
			p.listeners = append(p.listeners, l)
		}
	}

	p.started = true
	metrics.UpdateListenerActiveCount(len(p.listeners))
	p.logger.Info(ctx, "listeners started",
		logger.Int("destinations", len(dests)),
		logger.Int("per_destination", p.perDestination),
	)
	return nil
}

// Size returns the number of running listeners.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Shutdown stops every listener, waiting at most until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	return p.stopLocked(shutdownCtx)
}

func (p *Pool) stopLocked(ctx context.Context) error {
	var errs []error
	for _, l := range p.listeners {
		if err := l.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
		}
	}
	p.listeners = nil
	p.started = false
	metrics.UpdateListenerActiveCount(0)
	return errors.Join(errs...)
}
