package realtime

import (
	"sort"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler receives the raw payload of one frame. Payloads are opaque to the
// multiplexer; decoding is the handler's job.
type Handler func(payload []byte)

// Subscription is the live handle for one topic.
type Subscription struct {
	ID    string
	Topic string

	mux     *Multiplexer
	handler Handler

	mu       sync.Mutex
	q        *queue.Queue
	canceled bool

	// callMu is held for the duration of each handler call so that Cancel
	// can wait out a call already in progress.
	callMu sync.Mutex
	wake   chan struct{}
	done   chan struct{}
}

func newSubscription(m *Multiplexer, topic string, handler Handler) *Subscription {
	s := &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		mux:     m,
		handler: handler,
		q:       queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Cancel stops delivery. Once it returns the handler is not invoked again,
// and frames still queued are discarded. It is idempotent. Cancel waits for
// a handler call already in progress, so a handler that wants to drop its
// own subscription must call Cancel from another goroutine.
func (s *Subscription) Cancel() {
	if s.mux != nil {
		s.mux.remove(s)
	}
	s.stop(true)
}

// Canceled reports whether the subscription has been canceled.
func (s *Subscription) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (s *Subscription) enqueue(payload []byte) bool {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return false
	}
	s.q.Add(payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canceled || s.q.Length() == 0 {
		return nil, false
	}
	return s.q.Remove().([]byte), true
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			payload, ok := s.next()
			if !ok {
				break
			}
			s.deliver(payload)
		}
	}
}

func (s *Subscription) deliver(payload []byte) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if s.Canceled() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", s.Topic).Msg("subscription handler panicked")
		}
	}()
	s.handler(payload)
}

// stop discards queued frames and prevents any further handler call. With
// wait set it also blocks until a call already in progress returns; paths
// reachable from inside a handler pass false.
func (s *Subscription) stop(wait bool) {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	s.q = queue.New()
	s.mu.Unlock()

	close(s.done)

	if wait {
		s.callMu.Lock()
		s.callMu.Unlock()
	}
}

// Multiplexer keeps at most one live Subscription per topic on top of the
// session's current link.
type Multiplexer struct {
	link    func() Link
	metrics *Metrics

	mu      sync.Mutex
	byTopic map[string]*Subscription
	byID    map[string]*Subscription
}

func newMultiplexer(link func() Link, metrics *Metrics) *Multiplexer {
	return &Multiplexer{
		link:    link,
		metrics: metrics,
		byTopic: make(map[string]*Subscription),
		byID:    make(map[string]*Subscription),
	}
}

// Subscribe registers handler as the only receiver for topic. An existing
// subscription for the topic is canceled first. It returns nil when the
// session is not connected; callers retry once the session is ready.
// Handlers may call Subscribe, including for their own topic.
func (m *Multiplexer) Subscribe(topic string, handler Handler) *Subscription {
	sub, replaced := m.subscribe(topic, handler)
	if replaced != nil {
		replaced.stop(false)
		log.Debug().Str("topic", topic).Str("subscription_id", replaced.ID).Msg("replaced existing subscription")
	}
	return sub
}

func (m *Multiplexer) subscribe(topic string, handler Handler) (sub, replaced *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link := m.link()
	if link == nil {
		log.Warn().Str("topic", topic).Msg("cannot subscribe while disconnected")
		return nil, nil
	}

	if old, ok := m.byTopic[topic]; ok {
		m.removeLocked(old)
		if err := link.Unsubscribe(old.ID); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe replaced subscription")
		}
		replaced = old
	}

	sub = newSubscription(m, topic, handler)
	if err := link.Subscribe(sub.ID, topic); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to subscribe")
		sub.stop(false)
		m.metrics.setSubscriptions(len(m.byTopic))
		return nil, replaced
	}
	m.byTopic[topic] = sub
	m.byID[sub.ID] = sub
	m.metrics.setSubscriptions(len(m.byTopic))

	log.Info().Str("topic", topic).Str("subscription_id", sub.ID).Msg("subscribed")
	return sub, replaced
}

// UnsubscribeAll cancels every subscription and clears the map. It does not
// wait for handler calls already in progress, so handlers may trigger it
// (for example through Session.Deactivate); no handler call starts after it
// returns.
func (m *Multiplexer) UnsubscribeAll() {
	m.mu.Lock()
	if len(m.byTopic) == 0 {
		m.mu.Unlock()
		return
	}

	link := m.link()
	subs := make([]*Subscription, 0, len(m.byTopic))
	for topic, sub := range m.byTopic {
		if link != nil {
			if err := link.Unsubscribe(sub.ID); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe")
			}
		}
		subs = append(subs, sub)
	}
	m.byTopic = make(map[string]*Subscription)
	m.byID = make(map[string]*Subscription)
	m.metrics.setSubscriptions(0)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop(false)
	}
	log.Info().Int("count", len(subs)).Msg("canceled all subscriptions")
}

// Topics returns the subscribed topics in sorted order.
func (m *Multiplexer) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.byTopic))
	for t := range m.byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Len returns the number of live subscriptions.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTopic)
}

// dispatch hands a message to its subscription. Frames carrying an unknown
// subscription id belong to a canceled subscription and are dropped.
func (m *Multiplexer) dispatch(in Inbound) {
	m.mu.Lock()
	var sub *Subscription
	if in.SubscriptionID != "" {
		sub = m.byID[in.SubscriptionID]
	} else {
		sub = m.byTopic[in.Topic]
	}
	m.mu.Unlock()

	if sub == nil {
		log.Debug().
			Str("topic", in.Topic).
			Str("subscription_id", in.SubscriptionID).
			Msg("dropping frame without live subscription")
		return
	}
	sub.enqueue(in.Body)
}

func (m *Multiplexer) remove(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[sub.ID] != sub {
		return
	}
	m.removeLocked(sub)
	if link := m.link(); link != nil {
		if err := link.Unsubscribe(sub.ID); err != nil {
			log.Warn().Err(err).Str("topic", sub.Topic).Msg("failed to unsubscribe")
		}
	}
	m.metrics.setSubscriptions(len(m.byTopic))
}

func (m *Multiplexer) removeLocked(sub *Subscription) {
	delete(m.byID, sub.ID)
	if m.byTopic[sub.Topic] == sub {
		delete(m.byTopic, sub.Topic)
	}
}
