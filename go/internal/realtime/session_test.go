package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	topic   = "rooms/1/timer"
)

func newTestSession(t *testing.T, dialer *fakeDialer) (*Session, *clockwork.FakeClock, *Metrics) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewSession(dialer, Config{
		ReconnectDelay: 3 * time.Second,
		ConnectTimeout: 15 * time.Second,
		Clock:          clock,
		Metrics:        metrics,
	})
	t.Cleanup(s.Deactivate)
	return s, clock, metrics
}

func connect(t *testing.T, s *Session) {
	t.Helper()

	s.Activate()
	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Connected
	}, waitFor, tick)
}

type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) handle(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(p))
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func TestSubscribeReplacesExistingSubscription(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	var h1, h2 recorder
	sub1 := s.Subscribe(topic, h1.handle)
	require.NotNil(t, sub1)
	sub2 := s.Subscribe(topic, h2.handle)
	require.NotNil(t, sub2)

	assert.True(t, sub1.Canceled())
	assert.False(t, sub2.Canceled())
	assert.Equal(t, 1, s.Multiplexer().Len())
	assert.Contains(t, link.unsubscribedIDs(), sub1.ID)

	link.publish(topic, "a")
	// A frame already addressed to the replaced subscription is dropped.
	link.publishTo(sub1.ID, topic, "stale")
	link.publish(topic, "b")

	require.Eventually(t, func() bool { return len(h2.got()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"a", "b"}, h2.got())
	assert.Empty(t, h1.got())
}

func TestSubscribeWhileDisconnectedReturnsNil(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)

	var h recorder
	assert.Nil(t, s.Subscribe(topic, h.handle))
	assert.Equal(t, 0, s.Multiplexer().Len())
	assert.Equal(t, 0, dialer.dialCount())
}

func TestFramesDeliveredInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	var h recorder
	require.NotNil(t, s.Subscribe(topic, h.handle))

	want := make([]string, 100)
	for i := range want {
		want[i] = fmt.Sprintf("frame-%d", i)
		link.publish(topic, want[i])
	}

	require.Eventually(t, func() bool { return len(h.got()) == len(want) }, waitFor, tick)
	assert.Equal(t, want, h.got())
}

func TestMalformedPayloadDoesNotAffectOtherTopics(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, metrics := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	var chat recorder
	s.Subscribe(topic, func(p []byte) {
		if string(p) != "ok" {
			s.ReportMalformed(topic, errors.New("bad payload"))
			return
		}
		panic("handler bug")
	})
	s.Subscribe("rooms/1/messages", chat.handle)

	link.publish(topic, "{")
	link.publish(topic, "ok")
	link.publish("rooms/1/messages", "hello")

	require.Eventually(t, func() bool { return len(chat.got()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.malformedFrames.WithLabelValues("rooms/1/timer")) == 1
	}, waitFor, tick)
	assert.Equal(t, 2, s.Multiplexer().Len())
	assert.Equal(t, Connected, s.ConnectionState().Get())
}

func TestDeactivatePreventsInFlightDelivery(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	sub := s.Subscribe(topic, func([]byte) {
		calls.Add(1)
		started <- struct{}{}
		<-release
	})
	require.NotNil(t, sub)

	link.publish(topic, "1")
	link.publish(topic, "2")
	link.publish(topic, "3")

	<-started
	require.Eventually(t, func() bool { return sub.pending() == 2 }, waitFor, tick)

	deactivated := make(chan struct{})
	go func() {
		s.Deactivate()
		close(deactivated)
	}()
	require.Eventually(t, sub.Canceled, waitFor, tick)

	close(release)
	<-deactivated

	assert.Never(t, func() bool { return calls.Load() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, Disconnected, s.ConnectionState().Get())
	assert.Equal(t, 0, s.Multiplexer().Len())
	assert.True(t, link.isClosed())
}

func TestDeactivateWhenDisconnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)

	s.Deactivate()
	s.Deactivate()

	assert.Equal(t, Disconnected, s.ConnectionState().Get())
	assert.Equal(t, 0, dialer.dialCount())
}

func TestActivateIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, metrics := newTestSession(t, dialer)
	connect(t, s)

	s.Activate()
	s.Activate()

	assert.Never(t, func() bool { return dialer.dialCount() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.stateTransitions.WithLabelValues("connected")))
}

func TestConcurrentWaitersShareOneConnectionAttempt(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	s, clock, _ := newTestSession(t, dialer)

	const waiters = 8
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			errs <- s.WaitForConnection(context.Background())
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
	assert.Equal(t, Connecting, s.ConnectionState().Get())

	dialer.gate <- struct{}{}

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("waiter did not resolve")
		}
	}
	assert.Equal(t, 1, dialer.dialCount())

	// Every wait released its timer.
	require.NoError(t, clock.BlockUntilContext(ctx, 0))
}

func TestWaitForConnectionReturnsImmediatelyWhenConnected(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)

	require.NoError(t, s.WaitForConnection(context.Background()))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestWaitForConnectionTimesOutIndependently(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	s, clock, _ := newTestSession(t, dialer)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	first := make(chan error, 1)
	go func() { first <- s.WaitForConnection(context.Background()) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)

	second := make(chan error, 1)
	go func() { second <- s.WaitForConnection(context.Background()) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(5 * time.Second)
	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrConnectionTimeout)
	case <-time.After(waitFor):
		t.Fatal("first waiter did not time out")
	}
	select {
	case err := <-second:
		t.Fatalf("second waiter settled early: %v", err)
	default:
	}

	clock.Advance(10 * time.Second)
	select {
	case err := <-second:
		assert.ErrorIs(t, err, ErrConnectionTimeout)
	case <-time.After(waitFor):
		t.Fatal("second waiter did not time out")
	}
	assert.Equal(t, 1, dialer.dialCount())
}

func TestWaitForConnectionHonoursContext(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	s, _, _ := newTestSession(t, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitForConnection(ctx), context.Canceled)
}

func TestDeactivateSettlesPendingWaiters(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	s, clock, _ := newTestSession(t, dialer)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	errs := make(chan error, 1)
	go func() { errs <- s.WaitForConnection(context.Background()) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	s.Deactivate()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(waitFor):
		t.Fatal("waiter was not settled by Deactivate")
	}
	require.NoError(t, clock.BlockUntilContext(ctx, 0))
	assert.Equal(t, Disconnected, s.ConnectionState().Get())
}

func TestHandlerCanDeactivateSession(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)

	returned := make(chan struct{})
	require.NotNil(t, s.Subscribe(topic, func([]byte) {
		s.Deactivate()
		close(returned)
	}))
	dialer.link(0).publish(topic, "leave")

	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("Deactivate called from a handler did not return")
	}
	assert.Equal(t, Disconnected, s.ConnectionState().Get())

	connect(t, s)
	subscribed := make(chan *Subscription, 1)
	go func() { subscribed <- s.Subscribe("rooms/2/messages", func([]byte) {}) }()
	select {
	case sub := <-subscribed:
		assert.NotNil(t, sub)
	case <-time.After(waitFor):
		t.Fatal("Subscribe blocked after a handler deactivated the session")
	}
}

func TestHandlerCanResubscribeItsOwnTopic(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	var next recorder
	replaced := make(chan *Subscription, 1)
	first := s.Subscribe(topic, func([]byte) {
		replaced <- s.Subscribe(topic, next.handle)
	})
	require.NotNil(t, first)
	link.publish(topic, "swap")

	var sub *Subscription
	select {
	case sub = <-replaced:
		require.NotNil(t, sub)
	case <-time.After(waitFor):
		t.Fatal("Subscribe called from a handler did not return")
	}
	assert.True(t, first.Canceled())

	link.publish(topic, "after")
	require.Eventually(t, func() bool { return len(next.got()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"after"}, next.got())

	other := make(chan *Subscription, 1)
	go func() { other <- s.Subscribe("rooms/1/messages", func([]byte) {}) }()
	select {
	case o := <-other:
		assert.NotNil(t, o)
	case <-time.After(waitFor):
		t.Fatal("Subscribe on another topic blocked")
	}
	assert.Equal(t, 2, s.Multiplexer().Len())
}

func TestSendDropsWhileDisconnected(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, metrics := newTestSession(t, dialer)

	s.Send("app/rooms/1/messages", map[string]string{"message": "hi"})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.publishesDropped))
	assert.Equal(t, 0, dialer.dialCount())
}

func TestSendEncodesPayload(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, metrics := newTestSession(t, dialer)
	connect(t, s)

	s.Send("app/rooms/1/messages", map[string]string{"message": "hi"})
	s.Send("app/rooms/1/messages", []byte(`{"raw":true}`))

	sent := dialer.link(0).sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, "app/rooms/1/messages", sent[0].topic)
	assert.JSONEq(t, `{"message":"hi"}`, string(sent[0].body))
	assert.Equal(t, `{"raw":true}`, string(sent[1].body))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.publishesSent))
}

func TestReconnectsAfterLinkLoss(t *testing.T) {
	dialer := &fakeDialer{}
	s, clock, _ := newTestSession(t, dialer)
	connect(t, s)

	var h recorder
	require.NotNil(t, s.Subscribe(topic, h.handle))

	dialer.link(0).Close()

	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Disconnected
	}, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 0, s.Multiplexer().Len())
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, dialer.dialCount())
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Connected
	}, waitFor, tick)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReconnectRetriesFailedDials(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	s, clock, metrics := newTestSession(t, dialer)

	s.Activate()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, Disconnected, s.ConnectionState().Get())
		clock.Advance(3 * time.Second)
	}

	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Connected
	}, waitFor, tick)
	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.dialFailures))
}

func TestDeactivateCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{failures: 1}
	s, clock, _ := newTestSession(t, dialer)

	s.Activate()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	s.Deactivate()
	require.NoError(t, clock.BlockUntilContext(ctx, 0))
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return dialer.dialCount() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, Disconnected, s.ConnectionState().Get())
}

func TestBrokerErrorDisconnects(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)

	dialer.link(0).inbox <- Inbound{Kind: InboundError, Message: "bad destination"}

	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Disconnected
	}, waitFor, tick)
	assert.True(t, dialer.link(0).isClosed())
}

func TestHeartbeatTimeoutClosesLink(t *testing.T) {
	dialer := &fakeDialer{outgoing: 10 * time.Second, incoming: 10 * time.Second}
	s, clock, metrics := newTestSession(t, dialer)
	connect(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return dialer.link(0).heartbeatCount() >= 1 }, waitFor, tick)
	assert.Equal(t, Connected, s.ConnectionState().Get())

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return s.ConnectionState().Get() == Disconnected
	}, waitFor, tick)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.heartbeatTimeouts))
}

func TestInboundHeartbeatsKeepLinkAlive(t *testing.T) {
	dialer := &fakeDialer{incoming: 10 * time.Second}
	s, clock, _ := newTestSession(t, dialer)
	connect(t, s)
	link := dialer.link(0)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		link.inbox <- Inbound{Kind: InboundHeartbeat}
		require.Eventually(t, func() bool { return len(link.inbox) == 0 }, waitFor, tick)
	}
	assert.Never(t, func() bool {
		return s.ConnectionState().Get() != Connected
	}, 50*time.Millisecond, tick)
}

func TestConnectionStateReplaysCurrentValue(t *testing.T) {
	dialer := &fakeDialer{}
	s, _, _ := newTestSession(t, dialer)
	connect(t, s)

	ch, unsubscribe := s.ConnectionState().Subscribe()
	defer unsubscribe()

	select {
	case state := <-ch:
		assert.Equal(t, Connected, state)
	case <-time.After(waitFor):
		t.Fatal("no replayed state")
	}
}

func TestBackoff(t *testing.T) {
	s := NewSession(&fakeDialer{}, Config{
		ReconnectDelay:      time.Second,
		ReconnectBackoffMax: 8 * time.Second,
		Clock:               clockwork.NewFakeClock(),
	})

	want := []time.Duration{1, 2, 4, 8, 8}
	for i, w := range want {
		s.attempts = i
		assert.Equal(t, w*time.Second, s.backoffLocked(), "attempt %d", i)
	}

	constant := NewSession(&fakeDialer{}, Config{ReconnectDelay: 3 * time.Second})
	constant.attempts = 5
	assert.Equal(t, 3*time.Second, constant.backoffLocked())
}
