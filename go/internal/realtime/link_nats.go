package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures NATS links.
type NATSConfig struct {
	URL                 string
	Name                string
	Token               string
	ConnectTimeout      time.Duration
	PingInterval        time.Duration
	MaxPingsOutstanding int
	InboxSize           int
}

// DefaultNATSConfig returns NATS settings equivalent to the STOMP defaults:
// a 10s ping with two outstanding pings before the link is declared dead.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:                 url,
		Name:                "studybuddy-client",
		ConnectTimeout:      5 * time.Second,
		PingInterval:        10 * time.Second,
		MaxPingsOutstanding: 2,
		InboxSize:           256,
	}
}

// NATSDialer dials NATS. Client-side reconnection in the NATS library is
// disabled: a lost connection closes the link and the Session reconnects.
type NATSDialer struct {
	config NATSConfig
}

// NewNATSDialer creates a dialer for config.
func NewNATSDialer(config NATSConfig) *NATSDialer {
	if config.InboxSize <= 0 {
		config.InboxSize = 256
	}
	return &NATSDialer{config: config}
}

// Dial connects to the NATS server.
func (d *NATSDialer) Dial(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	link := &natsLink{
		inbox:  make(chan Inbound, d.config.InboxSize),
		closed: make(chan struct{}),
		subs:   make(map[string]*nats.Subscription),
	}

	timeout := d.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	opts := []nats.Option{
		nats.Name(d.config.Name),
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.PingInterval(d.config.PingInterval),
		nats.MaxPingsOutstanding(d.config.MaxPingsOutstanding),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			link.markClosed()
		}),
	}
	if d.config.Token != "" {
		opts = append(opts, nats.Token(d.config.Token))
	}

	nc, err := nats.Connect(d.config.URL, opts...)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("connect to NATS: %w", err)}
	}
	link.nc = nc

	log.Debug().Str("url", nc.ConnectedUrl()).Msg("NATS session established")
	return link, nil
}

type natsLink struct {
	nc     *nats.Conn
	inbox  chan Inbound
	closed chan struct{}

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	closeOnce sync.Once
}

func (l *natsLink) markClosed() {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
}

func (l *natsLink) deliver(in Inbound) {
	select {
	case l.inbox <- in:
	case <-l.closed:
	}
}

func (l *natsLink) Subscribe(id, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.nc.Subscribe(SubjectForTopic(topic), func(m *nats.Msg) {
		l.deliver(Inbound{
			Kind:           InboundMessage,
			SubscriptionID: id,
			Topic:          topic,
			Body:           m.Data,
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	l.subs[id] = sub
	return nil
}

func (l *natsLink) Unsubscribe(id string) error {
	l.mu.Lock()
	sub, ok := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (l *natsLink) Send(topic string, body []byte) error {
	return l.nc.Publish(SubjectForTopic(topic), body)
}

// Heartbeat is a no-op: NATS keeps the connection alive with its own pings.
func (l *natsLink) Heartbeat() error {
	return nil
}

func (l *natsLink) Heartbeats() (time.Duration, time.Duration) {
	return 0, 0
}

func (l *natsLink) Receive() (Inbound, error) {
	select {
	case in := <-l.inbox:
		return in, nil
	case <-l.closed:
		return Inbound{}, ErrLinkClosed
	}
}

func (l *natsLink) Close() error {
	l.nc.Close()
	l.markClosed()
	return nil
}

// SubjectForTopic maps a topic to a NATS subject: rooms/1/timer becomes
// rooms.1.timer.
func SubjectForTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// TopicForSubject is the inverse of SubjectForTopic.
func TopicForSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
