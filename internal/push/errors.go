package push

import "errors"

// Domain-specific errors for the push channel.
var (
	// ErrNotSynchronized is returned by WaitSynchronized when the initial
	// device snapshot did not complete in time.
	ErrNotSynchronized = errors.New("push: channel not synchronized")

	// ErrClosed is returned when the receive loop exits while a caller is
	// waiting on it.
	ErrClosed = errors.New("push: channel closed")

	// ErrDial is returned when the websocket handshake fails.
	ErrDial = errors.New("push: dial failed")
)
