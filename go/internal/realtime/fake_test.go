package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

type sentFrame struct {
	topic string
	body  []byte
}

type fakeLink struct {
	outgoing time.Duration
	incoming time.Duration

	mu           sync.Mutex
	subs         map[string]string
	unsubscribed []string
	sent         []sentFrame
	heartbeats   int

	inbox     chan Inbound
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		subs:   make(map[string]string),
		inbox:  make(chan Inbound, 256),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) Subscribe(id, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[id] = topic
	return nil
}

func (l *fakeLink) Unsubscribe(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
	l.unsubscribed = append(l.unsubscribed, id)
	return nil
}

func (l *fakeLink) Send(topic string, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, sentFrame{topic: topic, body: body})
	return nil
}

func (l *fakeLink) Heartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeats++
	return nil
}

func (l *fakeLink) Heartbeats() (time.Duration, time.Duration) {
	return l.outgoing, l.incoming
}

func (l *fakeLink) Receive() (Inbound, error) {
	select {
	case in := <-l.inbox:
		return in, nil
	case <-l.closed:
		return Inbound{}, ErrLinkClosed
	}
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// publish delivers body to every subscription id currently bound to topic,
// the way a broker would.
func (l *fakeLink) publish(topic string, body string) {
	l.mu.Lock()
	var ids []string
	for id, t := range l.subs {
		if t == topic {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.inbox <- Inbound{Kind: InboundMessage, SubscriptionID: id, Topic: topic, Body: []byte(body)}
	}
}

func (l *fakeLink) publishTo(id, topic, body string) {
	l.inbox <- Inbound{Kind: InboundMessage, SubscriptionID: id, Topic: topic, Body: []byte(body)}
}

func (l *fakeLink) sentFrames() []sentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sentFrame(nil), l.sent...)
}

func (l *fakeLink) unsubscribedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.unsubscribed...)
}

func (l *fakeLink) heartbeatCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heartbeats
}

type fakeDialer struct {
	// gate, when set, holds every dial until a value is received.
	gate     chan struct{}
	failures int
	outgoing time.Duration
	incoming time.Duration

	mu    sync.Mutex
	dials int
	links []*fakeLink
}

func (d *fakeDialer) Dial(ctx context.Context) (Link, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &TransportError{Op: "dial", Err: errors.New("connection refused")}
	}

	link := newFakeLink()
	link.outgoing = d.outgoing
	link.incoming = d.incoming

	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	return link, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) link(i int) *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.links) {
		return nil
	}
	return d.links[i]
}

func (s *Subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}
