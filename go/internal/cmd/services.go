package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/clients"
	"github.com/mcdev12/studybuddy/go/clients/studybuddy_client"
	"github.com/mcdev12/studybuddy/go/internal/chat"
	"github.com/mcdev12/studybuddy/go/internal/config"
	"github.com/mcdev12/studybuddy/go/internal/friends"
	"github.com/mcdev12/studybuddy/go/internal/inspector"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/room"
	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Session   *realtime.Session
	API       *studybuddy_client.Client
	Engine    *timer.Engine
	Room      *room.Session    // nil without a room id
	Friends   *friends.Service // nil without a user id
	Inbox     *chat.Inbox      // nil without a user id
	Inspector *inspector.Inspector
}

func setupServices(cfg *config.Config) (*Services, error) {
	// Transport → Session → room/friends features → inspector

	dialer, err := setupDialer(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	session := realtime.NewSession(dialer, realtime.Config{
		ReconnectDelay:      cfg.Realtime.ReconnectDelay,
		ReconnectBackoffMax: cfg.Realtime.ReconnectBackoffMax,
		ConnectTimeout:      cfg.Realtime.ConnectTimeout,
		Metrics:             realtime.NewMetrics(registry),
	})

	api := studybuddy_client.NewClient(cfg.API.BaseURL, clients.EnvToken(cfg.API.TokenEnv))
	api.SetTimeout(cfg.API.Timeout)

	engine := timer.NewEngine(timer.Config{
		Notifier: timer.NotifierFunc(func(roomID uuid.UUID, phase timer.Phase) {
			log.Info().Str("room_id", roomID.String()).Stringer("phase", phase).Msg("phase complete, waiting for the server")
		}),
	})

	services := &Services{
		Session: session,
		API:     api,
		Engine:  engine,
	}

	userID := cfg.UserID()
	if roomID := cfg.RoomID(); roomID != uuid.Nil {
		services.Room = room.NewSession(roomID, userID, session, api, engine)
	}
	if userID != uuid.Nil {
		services.Friends = friends.NewService(userID, session, api, friends.Config{})
		services.Inbox = chat.NewInbox(userID, session, api)
	}

	services.Inspector = inspector.New(session, engine, registry)
	return services, nil
}

func setupDialer(cfg *config.Config) (realtime.Dialer, error) {
	switch cfg.Realtime.Transport {
	case config.TransportSTOMP:
		wsConfig := realtime.DefaultWebSocketConfig(cfg.Realtime.Endpoint)
		wsConfig.HeartbeatOutgoing = cfg.Realtime.HeartbeatOutgoing
		wsConfig.HeartbeatIncoming = cfg.Realtime.HeartbeatIncoming
		return realtime.NewWebSocketDialer(wsConfig), nil
	case config.TransportNATS:
		natsConfig := realtime.DefaultNATSConfig(cfg.Realtime.NATSURL)
		natsConfig.Token = clients.EnvToken(cfg.API.TokenEnv).Token()
		return realtime.NewNATSDialer(natsConfig), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Realtime.Transport)
	}
}
