package broker

import (
	"fmt"
	"time"

	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// BridgeConfig configures the NATS bridge.
type BridgeConfig struct {
	URL           string
	Subjects      []string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultBridgeConfig forwards the room, user and friends-status subjects.
func DefaultBridgeConfig(url string) BridgeConfig {
	return BridgeConfig{
		URL:           url,
		Subjects:      []string{"rooms.>", "users.>", "friends.>"},
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Bridge republishes NATS messages to STOMP subscribers, so a backend that
// publishes "rooms.<id>.timer" reaches clients subscribed to
// /topic/rooms/<id>/timer.
type Bridge struct {
	broker *Broker
	nc     *nats.Conn
	subs   []*nats.Subscription
}

// NewBridge connects to NATS and subscribes to config.Subjects.
func NewBridge(b *Broker, config BridgeConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name("studybuddy-broker"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bridge := &Bridge{broker: b, nc: nc}
	for _, subject := range config.Subjects {
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			bridge.forward(msg.Subject, msg.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		bridge.subs = append(bridge.subs, sub)
	}

	log.Info().Str("url", config.URL).Strs("subjects", config.Subjects).Msg("NATS bridge started")
	return bridge, nil
}

func (br *Bridge) forward(subject string, data []byte) {
	destination := realtime.DestinationForTopic(realtime.TopicForSubject(subject))
	br.broker.Publish(destination, data)
}

// Close unsubscribes and drains the NATS connection.
func (br *Bridge) Close() error {
	if br.nc == nil {
		return nil
	}
	log.Info().Msg("stopping NATS bridge")
	return br.nc.Drain()
}
