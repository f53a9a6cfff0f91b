// Package broker is a minimal STOMP-over-WebSocket message broker for local
// development and tests. It speaks the same subset of STOMP 1.2 as the
// realtime client: topic fan-out under /topic, application destinations
// under /app, and heart-beats.
package broker

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/studybuddy/go/internal/stomp"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for broker connections.
type Config struct {
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration // used when the client sends no heart-beats
	PingInterval      time.Duration // used when the client wants no heart-beats
	HandshakeTimeout  time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	SendBuffer        int
	CheckOrigin       func(r *http.Request) bool
}

// DefaultConfig returns development defaults: 10s heart-beats and all
// origins allowed.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatOutgoing: 10 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		MaxMessageSize:    64 * 1024,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		SendBuffer:        256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// AppHandler receives SEND frames addressed to /app destinations.
type AppHandler func(b *Broker, destination string, body []byte)

// Rebroadcast is the default AppHandler: /app/x is published to /topic/x.
func Rebroadcast(b *Broker, destination string, body []byte) {
	b.Publish("/topic/"+strings.TrimPrefix(destination, "/app/"), body)
}

type publication struct {
	destination string
	body        []byte
}

type subscriber struct {
	conn *Connection
	id   string
}

// Broker tracks STOMP connections and their subscriptions.
type Broker struct {
	config   Config
	upgrader websocket.Upgrader
	app      AppHandler

	mu           sync.RWMutex
	connections  map[*Connection]struct{}
	destinations map[string]map[subscriber]struct{}

	publishCh chan publication
}

// New creates a broker. A nil app handler means Rebroadcast.
func New(config Config, app AppHandler) *Broker {
	if app == nil {
		app = Rebroadcast
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &Broker{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
			Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		},
		app:          app,
		connections:  make(map[*Connection]struct{}),
		destinations: make(map[string]map[subscriber]struct{}),
		publishCh:    make(chan publication, 1000),
	}
}

// Start fans out published messages until ctx is done. Messages are
// delivered in publish order.
func (b *Broker) Start(ctx context.Context) {
	log.Info().Msg("broker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broker shutting down")
			return
		case p := <-b.publishCh:
			b.deliver(p)
		}
	}
}

// Publish queues body for every subscriber of destination.
func (b *Broker) Publish(destination string, body []byte) {
	select {
	case b.publishCh <- publication{destination: destination, body: body}:
	default:
		log.Warn().Str("destination", destination).Msg("publish channel full, dropping message")
	}
}

func (b *Broker) deliver(p publication) {
	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.destinations[p.destination]))
	for sub := range b.destinations[p.destination] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.conn.enqueue(stomp.Encode(messageFrame(p.destination, sub.id, p.body))) {
			log.Warn().
				Str("connection_id", sub.conn.ID).
				Msg("connection send buffer full, closing connection")
			sub.conn.close()
		}
	}

	log.Debug().
		Str("destination", p.destination).
		Int("subscribers", len(targets)).
		Msg("message delivered")
}

// HandleWebSocket upgrades the request and serves one STOMP session.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &Connection{
		ID:          uuid.New().String(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		broker:      b,
		send:        make(chan []byte, b.config.SendBuffer),
		subs:        make(map[string]string),
		done:        make(chan struct{}),
	}
	go c.serve()
}

func (b *Broker) register(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connections[c] = struct{}{}
	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", c.RemoteAddr).
		Int("total_connections", len(b.connections)).
		Msg("STOMP connection registered")
}

func (b *Broker) unregister(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.connections[c]; !ok {
		return
	}
	delete(b.connections, c)
	for id, destination := range c.subscriptions() {
		b.removeSubscriberLocked(destination, subscriber{conn: c, id: id})
	}
	log.Info().Str("connection_id", c.ID).Msg("STOMP connection unregistered")
}

func (b *Broker) subscribe(c *Connection, id, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if previous, ok := c.setSubscription(id, destination); ok {
		b.removeSubscriberLocked(previous, subscriber{conn: c, id: id})
	}
	subs := b.destinations[destination]
	if subs == nil {
		subs = make(map[subscriber]struct{})
		b.destinations[destination] = subs
	}
	subs[subscriber{conn: c, id: id}] = struct{}{}
}

func (b *Broker) unsubscribe(c *Connection, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if destination, ok := c.removeSubscription(id); ok {
		b.removeSubscriberLocked(destination, subscriber{conn: c, id: id})
	}
}

func (b *Broker) removeSubscriberLocked(destination string, sub subscriber) {
	subs, ok := b.destinations[destination]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.destinations, destination)
	}
}

// CloseConnections drops every client connection. Clients are expected to
// reconnect.
func (b *Broker) CloseConnections() {
	b.mu.RLock()
	conns := make([]*Connection, 0, len(b.connections))
	for c := range b.connections {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// Stats describes the broker's current connections and subscriptions.
type Stats struct {
	Connections  int            `json:"connections"`
	Destinations map[string]int `json:"destinations"`
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Connections:  len(b.connections),
		Destinations: make(map[string]int, len(b.destinations)),
	}
	for destination, subs := range b.destinations {
		stats.Destinations[destination] = len(subs)
	}
	return stats
}
