package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/studybuddy/go/internal/broker"
	"github.com/mcdev12/studybuddy/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.StringP("config", "c", os.Getenv("STUDYBUDDY_CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", "", "listen address (overrides broker.addr)")
	natsURL := flag.String("nats", "", "NATS URL to bridge from (overrides broker.nats_url)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if *addr != "" {
		cfg.Broker.Addr = *addr
	}
	if *natsURL != "" {
		cfg.Broker.NATSURL = *natsURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := broker.New(broker.DefaultConfig(), nil)

	if cfg.Broker.NATSURL != "" {
		bridge, err := broker.NewBridge(b, broker.DefaultBridgeConfig(cfg.Broker.NATSURL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start NATS bridge")
		}
		defer bridge.Close()
	}

	srv := broker.NewServer(cfg.Broker.Addr, b.Handler())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Start(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Broker.Addr).Msg("broker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		b.CloseConnections()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("broker stopped")
	}
	log.Info().Msg("broker stopped")
}
