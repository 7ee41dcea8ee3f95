package workload

import "errors"

// Sentinel errors for aggregate mutations.
var (
	ErrNonPositiveDuration = errors.New("duration must be positive")
	ErrInvalidMonth        = errors.New("month must be in 1..12")
)
