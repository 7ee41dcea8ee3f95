package channel

import "errors"

// Sentinel errors for channel brokers.
var (
	ErrClosed             = errors.New("channel broker closed")
	ErrFull               = errors.New("channel destination full")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrPublish            = errors.New("publish failed")
)
