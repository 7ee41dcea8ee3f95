// Package deadletter keeps an inspectable record of rejected messages.
package deadletter

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

const defaultSize = 1_000

// Sink stores dead letters somewhere durable.
type Sink interface {
	Archive(ctx context.Context, dl model.DeadLetter) error
}

// Log is a bounded ring of the most recent dead letters. Archived records are
// also forwarded to every configured sink.
type Log struct {
	mu    sync.RWMutex
	buf   []model.DeadLetter
	next  int
	full  bool
	total int64

	sinks  []Sink
	logger logger.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithSize bounds the ring. Non-positive values keep the default.
func WithSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.buf = make([]model.DeadLetter, n)
		}
	}
}

// WithSink adds a downstream sink.
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLog creates a dead-letter log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		buf:    make([]model.DeadLetter, defaultSize),
		logger: logger.Get().Named("dead-letter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Archive records dl and forwards it to the sinks. Sink failures are joined
// and returned after every sink has been tried.
func (l *Log) Archive(ctx context.Context, dl model.DeadLetter) error {
	l.mu.Lock()
	l.buf[l.next] = dl
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.mu.Unlock()

	l.logger.Info(ctx, "dead letter archived",
		logger.String("id", dl.ID),
		logger.String("kind", string(dl.Kind)),
		logger.String("reason", dl.Reason),
	)

	var errs []error
	for _, s := range l.sinks {
		if err := s.Archive(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything held.
func (l *Log) Recent(limit int) []model.DeadLetter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]model.DeadLetter, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Total returns how many records were ever archived.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
