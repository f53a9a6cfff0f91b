package broker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/studybuddy/go/internal/stomp"
	"github.com/rs/zerolog/log"
)

var errDisconnect = errors.New("client disconnected")

// Connection is one client STOMP session.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn   *websocket.Conn
	broker *Broker

	// outgoing and incoming are the negotiated heart-beat intervals from the
	// broker's point of view.
	outgoing time.Duration
	incoming time.Duration

	mu     sync.Mutex
	send   chan []byte
	closed bool
	subs   map[string]string // subscription id -> destination
	done   chan struct{}
}

func (c *Connection) serve() {
	defer c.conn.Close()

	if c.broker.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.broker.config.MaxMessageSize)
	}
	if err := c.handshake(); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.RemoteAddr).Msg("STOMP handshake failed")
		return
	}

	c.broker.register(c)
	go c.writePump()
	c.readPump()

	c.close()
	c.broker.unregister(c)
	<-c.done
}

func (c *Connection) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(c.broker.config.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	f, err := stomp.Decode(data)
	if err != nil {
		c.writeDirect(errorFrame(err.Error()))
		return err
	}
	if f == nil || (f.Command != frame.CONNECT && f.Command != frame.STOMP) {
		c.writeDirect(errorFrame("expected CONNECT"))
		return errors.New("first frame is not CONNECT")
	}
	if v := f.Header.Get(frame.AcceptVersion); v != "" && !strings.Contains(v, stomp.Version) {
		c.writeDirect(errorFrame("supported protocol version is " + stomp.Version))
		return fmt.Errorf("unsupported accept-version %q", v)
	}

	clientOut, clientIn, err := stomp.PeerHeartBeat(f)
	if err != nil {
		c.writeDirect(errorFrame(err.Error()))
		return err
	}
	config := c.broker.config
	c.outgoing, c.incoming = stomp.NegotiateHeartBeat(
		config.HeartbeatOutgoing, config.HeartbeatIncoming, clientOut, clientIn)

	connected := frame.New(frame.CONNECTED,
		frame.Version, stomp.Version,
		frame.HeartBeat, stomp.FormatHeartBeat(config.HeartbeatOutgoing, config.HeartbeatIncoming),
		frame.Server, "studybuddy-broker",
		frame.Session, c.ID,
	)
	return c.writeDirect(connected)
}

// writeDirect is only used before the write pump starts.
func (c *Connection) writeDirect(f *frame.Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.broker.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, stomp.Encode(f))
}

// enqueue hands data to the write pump. It reports false when the send
// buffer is full.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump after it flushes what is already queued.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) setSubscription(id, destination string) (previous string, replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous, replaced = c.subs[id]
	c.subs[id] = destination
	return previous, replaced
}

func (c *Connection) removeSubscription(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	destination, ok := c.subs[id]
	delete(c.subs, id)
	return destination, ok
}

func (c *Connection) subscriptions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.subs))
	for id, destination := range c.subs {
		out[id] = destination
	}
	return out
}

func (c *Connection) writePump() {
	defer close(c.done)
	defer c.conn.Close()

	interval, heartbeat := c.outgoing, true
	if interval <= 0 {
		interval, heartbeat = c.broker.config.PingInterval, false
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.broker.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write STOMP frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.broker.config.WriteTimeout))
			var err error
			if heartbeat {
				err = c.conn.WriteMessage(websocket.TextMessage, stomp.HeartBeat)
			} else {
				err = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			if err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send heart-beat")
				return
			}
		}
	}
}

func (c *Connection) readTimeout() time.Duration {
	if c.incoming > 0 {
		return 2 * c.incoming
	}
	return c.broker.config.ReadTimeout
}

func (c *Connection) readPump() {
	timeout := c.readTimeout()
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(timeout))

		f, err := stomp.Decode(data)
		if err != nil {
			c.enqueue(stomp.Encode(errorFrame(err.Error())))
			return
		}
		if f == nil {
			continue
		}
		if err := c.handleFrame(f); err != nil {
			if !errors.Is(err, errDisconnect) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("closing connection after protocol error")
				c.enqueue(stomp.Encode(errorFrame(err.Error())))
			}
			return
		}
	}
}

func (c *Connection) handleFrame(f *frame.Frame) error {
	switch f.Command {
	case frame.SUBSCRIBE:
		id, destination := f.Header.Get(frame.Id), f.Header.Get(frame.Destination)
		if id == "" || destination == "" {
			return errors.New("SUBSCRIBE requires id and destination")
		}
		c.broker.subscribe(c, id, destination)
		log.Debug().Str("connection_id", c.ID).Str("destination", destination).Msg("subscribed")

	case frame.UNSUBSCRIBE:
		id := f.Header.Get(frame.Id)
		if id == "" {
			return errors.New("UNSUBSCRIBE requires id")
		}
		c.broker.unsubscribe(c, id)

	case frame.SEND:
		destination := f.Header.Get(frame.Destination)
		switch {
		case strings.HasPrefix(destination, "/app/"):
			c.broker.app(c.broker, destination, f.Body)
		case strings.HasPrefix(destination, "/topic/"):
			c.broker.Publish(destination, f.Body)
		default:
			return fmt.Errorf("cannot send to destination %q", destination)
		}

	case frame.DISCONNECT:
		c.receipt(f)
		return errDisconnect

	default:
		return fmt.Errorf("unsupported command %s", f.Command)
	}

	c.receipt(f)
	return nil
}

func (c *Connection) receipt(f *frame.Frame) {
	if id := f.Header.Get(frame.Receipt); id != "" {
		c.enqueue(stomp.Encode(frame.New(frame.RECEIPT, frame.ReceiptId, id)))
	}
}

func messageFrame(destination, subscriptionID string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		frame.Destination, destination,
		frame.Subscription, subscriptionID,
		frame.MessageId, uuid.New().String(),
		frame.ContentType, "application/json",
	)
	f.Body = body
	return f
}

func errorFrame(message string) *frame.Frame {
	return frame.New(frame.ERROR, frame.Message, message)
}
