package producer

import (
	"time"

	"github.com/okian/workload/pkg/logger"
)

// Option applies a configuration option to the Producer.
type Option func(*Producer)

// WithClock overrides the time source used for validation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets a custom logger for the producer.
func WithLogger(l logger.Logger) Option {
	return func(p *Producer) {
		if l != nil {
			p.logger = l
		}
	}
}
