package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/studybuddy/go/internal/stomp"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig configures STOMP-over-WebSocket links.
type WebSocketConfig struct {
	URL               string
	Host              string // STOMP virtual host, defaults to the URL host
	Header            http.Header
	Login             string
	Passcode          string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
}

// DefaultWebSocketConfig returns the settings used by the web client:
// 10s heart-beats in both directions.
func DefaultWebSocketConfig(endpoint string) WebSocketConfig {
	return WebSocketConfig{
		URL:               endpoint,
		HeartbeatOutgoing: 10 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
	}
}

// WebSocketDialer dials STOMP 1.2 over WebSocket.
type WebSocketDialer struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for config.
func NewWebSocketDialer(config WebSocketConfig) *WebSocketDialer {
	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			Subprotocols:     []string{"v12.stomp"},
		},
	}
}

// Dial connects and performs the CONNECT/CONNECTED handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (Link, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.config.URL, d.config.Header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if d.config.MaxMessageSize > 0 {
		conn.SetReadLimit(d.config.MaxMessageSize)
	}

	link := &wsLink{
		conn:         conn,
		writeTimeout: d.config.WriteTimeout,
	}
	if err := link.handshake(ctx, d.config); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().
		Str("url", d.config.URL).
		Dur("heartbeat_out", link.outgoing).
		Dur("heartbeat_in", link.incoming).
		Msg("STOMP session established")
	return link, nil
}

type wsLink struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	outgoing time.Duration
	incoming time.Duration

	closeOnce sync.Once
}

func (l *wsLink) handshake(ctx context.Context, config WebSocketConfig) error {
	host := config.Host
	if host == "" {
		if u, err := url.Parse(config.URL); err == nil {
			host = u.Hostname()
		}
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, stomp.Version,
		frame.Host, host,
		frame.HeartBeat, stomp.FormatHeartBeat(config.HeartbeatOutgoing, config.HeartbeatIncoming),
	)
	if config.Login != "" {
		connect.Header.Set(frame.Login, config.Login)
		connect.Header.Set(frame.Passcode, config.Passcode)
	}
	if err := l.write(connect); err != nil {
		return &TransportError{Op: "handshake", Err: err}
	}

	deadline := time.Now().Add(config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	l.conn.SetReadDeadline(deadline)
	defer l.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "handshake", Err: err}
		}
		f, err := stomp.Decode(data)
		if err != nil {
			return &TransportError{Op: "handshake", Err: err}
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.CONNECTED:
			serverOut, serverIn, err := stomp.PeerHeartBeat(f)
			if err != nil {
				return &TransportError{Op: "handshake", Err: err}
			}
			l.outgoing, l.incoming = stomp.NegotiateHeartBeat(
				config.HeartbeatOutgoing, config.HeartbeatIncoming, serverOut, serverIn)
			return nil
		case frame.ERROR:
			return &TransportError{Op: "handshake", Err: errors.New(errorText(f))}
		default:
			return &TransportError{Op: "handshake", Err: fmt.Errorf("unexpected %s frame", f.Command)}
		}
	}
}

func (l *wsLink) write(f *frame.Frame) error {
	return l.writeRaw(stomp.Encode(f))
}

func (l *wsLink) writeRaw(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) Subscribe(id, topic string) error {
	return l.write(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, DestinationForTopic(topic),
		frame.Ack, "auto",
	))
}

func (l *wsLink) Unsubscribe(id string) error {
	return l.write(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (l *wsLink) Send(topic string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, DestinationForTopic(topic),
		frame.ContentType, "application/json",
	)
	f.Body = body
	return l.write(f)
}

func (l *wsLink) Heartbeat() error {
	return l.writeRaw(stomp.HeartBeat)
}

func (l *wsLink) Heartbeats() (time.Duration, time.Duration) {
	return l.outgoing, l.incoming
}

func (l *wsLink) Receive() (Inbound, error) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrLinkClosed, err)
		}
		f, err := stomp.Decode(data)
		if err != nil {
			log.Warn().Err(err).Int("size", len(data)).Msg("dropping undecodable STOMP frame")
			continue
		}
		if f == nil {
			return Inbound{Kind: InboundHeartbeat}, nil
		}

		switch f.Command {
		case frame.MESSAGE:
			return Inbound{
				Kind:           InboundMessage,
				SubscriptionID: f.Header.Get(frame.Subscription),
				Topic:          TopicForDestination(f.Header.Get(frame.Destination)),
				Body:           f.Body,
			}, nil
		case frame.ERROR:
			return Inbound{Kind: InboundError, Message: errorText(f)}, nil
		case frame.RECEIPT:
			return Inbound{Kind: InboundReceipt, Message: f.Header.Get(frame.ReceiptId)}, nil
		default:
			log.Debug().Str("command", f.Command).Msg("ignoring unexpected STOMP frame")
		}
	}
}

func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		l.conn.SetWriteDeadline(deadline)
		l.conn.WriteMessage(websocket.TextMessage, stomp.Encode(frame.New(frame.DISCONNECT)))
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func errorText(f *frame.Frame) string {
	msg := f.Header.Get(frame.Message)
	if len(f.Body) > 0 {
		if msg != "" {
			msg += ": "
		}
		msg += string(f.Body)
	}
	if msg == "" {
		msg = "broker error"
	}
	return msg
}

// DestinationForTopic maps a topic to its STOMP destination. Application
// (app/...) and user-queue (user/...) topics keep their own prefix; the rest
// are broadcast topics under /topic.
func DestinationForTopic(topic string) string {
	if strings.HasPrefix(topic, "app/") || strings.HasPrefix(topic, "user/") {
		return "/" + topic
	}
	return "/topic/" + topic
}

// TopicForDestination is the inverse of DestinationForTopic.
func TopicForDestination(destination string) string {
	if t, ok := strings.CutPrefix(destination, "/topic/"); ok {
		return t
	}
	return strings.TrimPrefix(destination, "/")
}
