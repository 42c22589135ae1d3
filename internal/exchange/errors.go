package exchange

import (
	"errors"
	"fmt"

	"spreadwatch/internal/model"
)

// ErrAdapterClosed is returned by an adapter after Disconnect.
var ErrAdapterClosed = errors.New("adapter closed")

// ConnectionError reports that a venue was unreachable or its handshake timed out.
type ConnectionError struct {
	Venue model.Venue
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Venue, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a malformed venue payload.
type DecodeError struct {
	Venue model.Venue
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode failed: %v", e.Venue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SubscriptionError reports a stream request for a symbol the venue does not list.
type SubscriptionError struct {
	Venue  model.Venue
	Symbol string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: unknown symbol %q", e.Venue, e.Symbol)
}
