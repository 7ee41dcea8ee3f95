package receiver

import (
	"time"

	"github.com/okian/workload/internal/domain/dedupe"
	"github.com/okian/workload/pkg/logger"
)

// Option configures a Receiver.
type Option func(*Receiver)

// WithDeduper sets the redelivery deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(r *Receiver) {
		if d != nil {
			r.deduper = d
		}
	}
}

// WithArchive sets the sink for records consumed from the dead-letter destination.
func WithArchive(a Archive) Option {
	return func(r *Receiver) {
		if a != nil {
			r.archive = a
		}
	}
}

// WithClock overrides the time source used for dead-letter records.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Receiver) {
		if l != nil {
			r.logger = l
		}
	}
}
