package exception

import "github.com/yanun0323/errors"

// Stream errors
var (
	ErrStreamNotStarted       = errors.New("stream: processor not started")
	ErrStreamMalformedEvent   = errors.New("stream: malformed event")
	ErrStreamBackpressureDrop = errors.New("stream: dropped by backpressure")
	ErrStreamFiltered         = errors.New("stream: filtered")
	ErrStreamUnknownKey       = errors.New("stream: unknown buffer key")
	ErrStreamStopped          = errors.New("stream: processor stopped")
)
