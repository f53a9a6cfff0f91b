package realtime

import (
	"context"
	"time"
)

// InboundKind classifies what a Link received.
type InboundKind int

const (
	// InboundMessage is a payload published on a subscribed topic.
	InboundMessage InboundKind = iota
	// InboundHeartbeat is a keep-alive from the server.
	InboundHeartbeat
	// InboundError is a protocol-level error reported by the server. The
	// session treats it as fatal for the current link.
	InboundError
	// InboundReceipt acknowledges a client frame and carries no payload.
	InboundReceipt
)

// Inbound is one unit received from a Link.
type Inbound struct {
	Kind           InboundKind
	SubscriptionID string
	Topic          string
	Body           []byte
	Message        string
}

// Link is one established connection to the messaging endpoint. The handshake
// has completed by the time a Dialer returns it. Methods other than Receive
// may be called concurrently; Receive is only called by the session read loop.
type Link interface {
	// Subscribe starts delivery of topic under the given subscription id.
	Subscribe(id, topic string) error
	// Unsubscribe stops delivery for a subscription id.
	Unsubscribe(id string) error
	// Send publishes body on topic.
	Send(topic string, body []byte) error
	// Heartbeat writes a keep-alive.
	Heartbeat() error
	// Heartbeats reports the negotiated outgoing and incoming heartbeat
	// intervals. Zero disables the corresponding direction.
	Heartbeats() (outgoing, incoming time.Duration)
	// Receive blocks until something arrives or the link fails.
	Receive() (Inbound, error)
	// Close tears the link down. It is idempotent.
	Close() error
}

// Dialer opens links. Dial performs both the network connect and the
// protocol handshake.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Link, error)

func (f DialerFunc) Dial(ctx context.Context) (Link, error) {
	return f(ctx)
}
