package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionTimeout is returned by WaitForConnection when the session
	// does not reach Connected within the configured bound.
	ErrConnectionTimeout = errors.New("realtime: connection timeout")

	// ErrNotConnected marks operations attempted while the session is not
	// Connected. Send and Subscribe log it instead of returning it;
	// WaitForConnection returns it when the session is deactivated while
	// the caller waits.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrLinkClosed is returned by Link.Receive once the link is closed.
	ErrLinkClosed = errors.New("realtime: link closed")

	// ErrMalformedFrame wraps payload decoding failures.
	ErrMalformedFrame = errors.New("realtime: malformed frame")
)

// TransportError describes a dial, handshake or protocol failure. The session
// recovers from it through the reconnect policy; it is only ever logged.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedFrame wraps err so that errors.Is(err, ErrMalformedFrame) holds.
func MalformedFrame(topic string, err error) error {
	return fmt.Errorf("%w on %s: %v", ErrMalformedFrame, topic, err)
}
