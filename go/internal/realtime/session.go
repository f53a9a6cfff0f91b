package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/rs/zerolog/log"
)

// Config holds Session tuning.
type Config struct {
	// ReconnectDelay is the wait before re-dialing after a lost link.
	ReconnectDelay time.Duration
	// ReconnectBackoffMax enables exponential backoff when larger than
	// ReconnectDelay: the delay doubles per failed attempt up to this cap.
	ReconnectBackoffMax time.Duration
	// ConnectTimeout bounds WaitForConnection.
	ConnectTimeout time.Duration
	// DialTimeout bounds a single dial plus handshake. Zero means no bound
	// beyond the dialer's own.
	DialTimeout time.Duration

	Clock   clockwork.Clock
	Metrics *Metrics
}

// DefaultConfig returns a 3s constant reconnect delay and a 15s connect
// timeout.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 3 * time.Second,
		ConnectTimeout: 15 * time.Second,
		DialTimeout:    20 * time.Second,
		Clock:          clockwork.NewRealClock(),
	}
}

// heartbeatTolerance multiplies the negotiated incoming interval before a
// silent link is declared dead.
const heartbeatTolerance = 2

// Session owns one persistent, auto-reconnecting link to the messaging
// endpoint and the subscriptions made over it.
type Session struct {
	dialer  Dialer
	config  Config
	clock   clockwork.Clock
	metrics *Metrics
	mux     *Multiplexer
	state   *signal.Value[ConnectionState]

	mu        sync.Mutex
	active    bool
	gen       uint64
	link      Link
	cancel    context.CancelFunc
	reconnect clockwork.Timer
	attempts  int
	// ready is closed while Connected and replaced when leaving Connected.
	ready chan struct{}
	// teardown is closed and replaced by every Deactivate.
	teardown chan struct{}
}

// NewSession creates an inactive session. Nothing is dialed until Activate
// or WaitForConnection.
func NewSession(dialer Dialer, config Config) *Session {
	defaults := DefaultConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	s := &Session{
		dialer:   dialer,
		config:   config,
		clock:    config.Clock,
		metrics:  config.Metrics,
		state:    signal.NewValue(Disconnected),
		ready:    make(chan struct{}),
		teardown: make(chan struct{}),
	}
	s.mux = newMultiplexer(s.connectedLink, config.Metrics)
	return s
}

// ConnectionState returns the replayable connection state signal.
func (s *Session) ConnectionState() *signal.Value[ConnectionState] {
	return s.state
}

// Multiplexer returns the session's subscription multiplexer.
func (s *Session) Multiplexer() *Multiplexer {
	return s.mux
}

// Subscribe is shorthand for Multiplexer().Subscribe.
func (s *Session) Subscribe(topic string, handler Handler) *Subscription {
	return s.mux.Subscribe(topic, handler)
}

// Activate starts connecting. It is a no-op while the session is already
// active, including while a reconnect is pending.
func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}
	s.active = true
	s.attempts = 0
	log.Info().Msg("activating realtime session")
	s.connectLocked()
}

// Deactivate cancels all subscriptions, stops reconnecting and closes the
// link. Pending WaitForConnection calls return ErrNotConnected. A handler
// call already in progress may still be finishing when Deactivate returns,
// which lets handlers call it. Calling it on an inactive, disconnected
// session does nothing.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if !s.active && s.state.Get() == Disconnected {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.gen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	link := s.link
	s.link = nil
	s.setStateLocked(Disconnected)
	close(s.teardown)
	s.teardown = make(chan struct{})
	s.mu.Unlock()

	s.mux.UnsubscribeAll()
	if link != nil {
		if err := link.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing link")
		}
	}
	log.Info().Msg("realtime session deactivated")
}

// Send publishes payload on topic. []byte and json.RawMessage payloads are
// sent as is; anything else is JSON-encoded. When the session is not
// connected the publish is dropped with a warning. Send never reports an
// error to the caller.
func (s *Session) Send(topic string, payload any) {
	body, err := encodePayload(payload)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to encode publish")
		return
	}

	link := s.connectedLink()
	if link == nil {
		s.metrics.incPublishDropped()
		log.Warn().Err(ErrNotConnected).Str("topic", topic).Msg("dropping publish")
		return
	}
	if err := link.Send(topic, body); err != nil {
		s.metrics.incPublishDropped()
		log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
		return
	}
	s.metrics.incPublishSent()
}

// WaitForConnection blocks until the session is Connected, activating it if
// needed. It fails with ErrConnectionTimeout once ConnectTimeout elapses,
// with ErrNotConnected if the session is deactivated meanwhile, or with
// ctx's error. Concurrent callers wait independently on the same connection
// attempt.
func (s *Session) WaitForConnection(ctx context.Context) error {
	s.Activate()

	s.mu.Lock()
	if s.link != nil {
		s.mu.Unlock()
		return nil
	}
	ready, teardown := s.ready, s.teardown
	s.mu.Unlock()

	timeout := s.clock.NewTimer(s.config.ConnectTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		return nil
	case <-teardown:
		return ErrNotConnected
	case <-timeout.Chan():
		log.Warn().Dur("timeout", s.config.ConnectTimeout).Msg("timed out waiting for realtime connection")
		return ErrConnectionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportMalformed records a payload a handler could not decode. The frame
// is dropped; the subscription stays live.
func (s *Session) ReportMalformed(topic string, err error) {
	s.metrics.incMalformedFrame(topic)
	log.Warn().Err(MalformedFrame(topic, err)).Str("topic", topic).Msg("dropping malformed frame")
}

func (s *Session) connectedLink() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) setStateLocked(state ConnectionState) {
	prev := s.state.Get()
	if prev == state {
		return
	}
	switch {
	case state == Connected:
		close(s.ready)
	case prev == Connected:
		s.ready = make(chan struct{})
	}
	s.state.Set(state)
	s.metrics.incStateTransition(state)
	log.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("connection state changed")
}

func (s *Session) connectLocked() {
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStateLocked(Connecting)

	go s.run(ctx, gen)
}

func (s *Session) run(ctx context.Context, gen uint64) {
	s.metrics.incDialAttempt()

	dialCtx := ctx
	if s.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.config.DialTimeout)
		defer cancel()
	}

	link, err := s.dialer.Dial(dialCtx)
	if err != nil {
		s.metrics.incDialFailure()
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("realtime connect failed")
		}
		s.connectionLost(gen)
		return
	}

	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.link = link
	s.attempts = 0
	s.setStateLocked(Connected)
	s.mu.Unlock()

	log.Info().Msg("realtime session connected")

	var lastRead atomic.Int64
	lastRead.Store(s.clock.Now().UnixNano())

	done := make(chan struct{})
	go s.heartbeat(link, &lastRead, done)

	err = s.readLoop(link, &lastRead)
	close(done)
	link.Close()

	if ctx.Err() == nil {
		log.Warn().Err(err).Msg("realtime link lost")
	}
	s.connectionLost(gen)
}

func (s *Session) readLoop(link Link, lastRead *atomic.Int64) error {
	for {
		in, err := link.Receive()
		if err != nil {
			return err
		}
		lastRead.Store(s.clock.Now().UnixNano())
		s.metrics.incFrameReceived(in.Kind)

		switch in.Kind {
		case InboundMessage:
			s.mux.dispatch(in)
		case InboundError:
			log.Error().Str("message", in.Message).Msg("broker reported an error")
			return &TransportError{Op: "receive", Err: errors.New(in.Message)}
		}
	}
}

// heartbeat writes outgoing keep-alives and closes the link when nothing
// has been read for heartbeatTolerance incoming intervals.
func (s *Session) heartbeat(link Link, lastRead *atomic.Int64, done <-chan struct{}) {
	outgoing, incoming := link.Heartbeats()

	var sendC, checkC <-chan time.Time
	if outgoing > 0 {
		t := s.clock.NewTicker(outgoing)
		defer t.Stop()
		sendC = t.Chan()
	}
	if incoming > 0 {
		t := s.clock.NewTicker(incoming)
		defer t.Stop()
		checkC = t.Chan()
	}
	if sendC == nil && checkC == nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-sendC:
			if err := link.Heartbeat(); err != nil {
				log.Warn().Err(err).Msg("failed to write heartbeat")
				link.Close()
				return
			}
		case <-checkC:
			silent := s.clock.Since(time.Unix(0, lastRead.Load()))
			if silent >= heartbeatTolerance*incoming {
				s.metrics.incHeartbeatTimeout()
				log.Warn().Dur("silent_for", silent).Msg("no heartbeat from server, closing link")
				link.Close()
				return
			}
		}
	}
}

// connectionLost tears down what belonged to link generation gen and
// schedules a reconnect when the session is still active.
func (s *Session) connectionLost(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.link = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	// Handles never survive a reconnect cycle. The reconnect is scheduled
	// only after they are gone.
	s.mux.UnsubscribeAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.active {
		return
	}

	delay := s.backoffLocked()
	s.attempts++
	log.Info().Dur("delay", delay).Int("attempt", s.attempts).Msg("scheduling reconnect")

	s.reconnect = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if gen != s.gen || !s.active {
			return
		}
		s.reconnect = nil
		s.connectLocked()
	})
}

func (s *Session) backoffLocked() time.Duration {
	delay := s.config.ReconnectDelay
	if s.config.ReconnectBackoffMax <= delay {
		return delay
	}
	for i := 0; i < s.attempts; i++ {
		delay *= 2
		if delay >= s.config.ReconnectBackoffMax {
			return s.config.ReconnectBackoffMax
		}
	}
	return delay
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(payload)
	}
}
