package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/studybuddy/go/internal/config"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.StringP("config", "c", os.Getenv("STUDYBUDDY_CONFIG"), "path to a YAML config file")
	roomID := flag.StringP("room", "r", "", "room to enter (overrides room.room_id)")
	userID := flag.StringP("user", "u", "", "signed-in user (overrides room.user_id)")
	transport := flag.String("transport", "", "realtime transport: stomp or nats")
	inspectorAddr := flag.String("inspector", "", "inspector listen address, empty string keeps the configured one")
	start := flag.Bool("start", false, "start the room timer after entering")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *roomID != "" {
		cfg.Room.RoomID = *roomID
	}
	if *userID != "" {
		cfg.Room.UserID = *userID
	}
	if *transport != "" {
		cfg.Realtime.Transport = config.Transport(*transport)
	}
	if *inspectorAddr != "" {
		cfg.Inspector.Addr = *inspectorAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	// Validate already loaded the zone once.
	loc, _ := cfg.Location()
	models.SetTimestampLocation(loc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	if err := run(ctx, cfg, services, *start); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("client stopped")
	}
	log.Info().Msg("client stopped")
}
