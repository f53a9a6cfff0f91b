// Package realtimetest provides an in-memory Link and Dialer for testing
// code built on realtime.Session.
package realtimetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/studybuddy/go/internal/realtime"
)

// Frame is a publish recorded by a Link.
type Frame struct {
	Topic string
	Body  []byte
}

// Link is an in-memory realtime.Link. Publish plays the role of the broker.
type Link struct {
	mu   sync.Mutex
	subs map[string]string
	sent []Frame

	inbox     chan realtime.Inbound
	closed    chan struct{}
	closeOnce sync.Once
}

func NewLink() *Link {
	return &Link{
		subs:   make(map[string]string),
		inbox:  make(chan realtime.Inbound, 256),
		closed: make(chan struct{}),
	}
}

func (l *Link) Subscribe(id, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[id] = topic
	return nil
}

func (l *Link) Unsubscribe(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
	return nil
}

func (l *Link) Send(topic string, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, Frame{Topic: topic, Body: body})
	return nil
}

func (l *Link) Heartbeat() error {
	return nil
}

func (l *Link) Heartbeats() (time.Duration, time.Duration) {
	return 0, 0
}

func (l *Link) Receive() (realtime.Inbound, error) {
	select {
	case in := <-l.inbox:
		return in, nil
	case <-l.closed:
		return realtime.Inbound{}, realtime.ErrLinkClosed
	}
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Publish delivers body to every subscription on topic and reports how many
// there were.
func (l *Link) Publish(topic string, body []byte) int {
	l.mu.Lock()
	var ids []string
	for id, t := range l.subs {
		if t == topic {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.inbox <- realtime.Inbound{
			Kind:           realtime.InboundMessage,
			SubscriptionID: id,
			Topic:          topic,
			Body:           body,
		}
	}
	return len(ids)
}

// Subscribed reports whether topic has a live subscription.
func (l *Link) Subscribed(topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.subs {
		if t == topic {
			return true
		}
	}
	return false
}

// Sent returns every publish made over the link.
func (l *Link) Sent() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Frame(nil), l.sent...)
}

// Dialer hands out a fresh Link per dial.
type Dialer struct {
	mu    sync.Mutex
	links []*Link
}

func (d *Dialer) Dial(ctx context.Context) (realtime.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	link := NewLink()

	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	return link, nil
}

// Dials returns the number of links handed out.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.links)
}

// Last returns the most recent link, or nil before the first dial.
func (d *Dialer) Last() *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

// NewSession returns a session over a Dialer. It is deactivated when the
// test ends.
func NewSession(t testing.TB, config realtime.Config) (*realtime.Session, *Dialer) {
	t.Helper()

	dialer := &Dialer{}
	session := realtime.NewSession(dialer, config)
	t.Cleanup(session.Deactivate)
	return session, dialer
}

// Connect returns a connected session over a Dialer.
func Connect(t testing.TB) (*realtime.Session, *Dialer) {
	t.Helper()

	session, dialer := NewSession(t, realtime.Config{ReconnectDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.WaitForConnection(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return session, dialer
}
