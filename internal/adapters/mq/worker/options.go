package worker

import (
	"github.com/okian/workload/pkg/logger"
)

// Option applies a configuration option to a Listener.
type Option func(*Listener)

// WithName sets the listener name for identification and logging.
func WithName(name string) Option {
	return func(l *Listener) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLogger sets a custom logger for the listener.
func WithLogger(logger logger.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// PoolOption applies a configuration option to a Pool.
type PoolOption func(*Pool)

// WithListenerCount sets how many listeners compete on each destination.
// Values outside 1..10 are clamped.
func WithListenerCount(n int) PoolOption {
	return func(p *Pool) {
		p.perDestination = min(max(n, minListeners), maxListeners)
	}
}

// WithPoolLogger sets a custom logger for the pool.
func WithPoolLogger(logger logger.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}
