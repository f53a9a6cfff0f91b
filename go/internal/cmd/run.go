package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/studybuddy/go/internal/config"
	"github.com/mcdev12/studybuddy/go/internal/inspector"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cfg *config.Config, services *Services, start bool) error {
	services.Session.Activate()
	defer services.Session.Deactivate()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Inspector.Addr != "" {
		srv := inspector.NewServer(cfg.Inspector.Addr, services.Inspector.Handler())
		g.Go(func() error {
			log.Info().Str("addr", cfg.Inspector.Addr).Msg("inspector listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspector: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if services.Friends != nil {
		defer services.Friends.Close()
		defer services.Inbox.Close()
		g.Go(func() error {
			return services.Friends.Run(ctx)
		})
		g.Go(func() error {
			watchUserTopics(ctx, services)
			return nil
		})
	}

	if services.Room != nil {
		if err := services.Room.Enter(ctx); err != nil {
			if !errors.Is(err, realtime.ErrConnectionTimeout) {
				return err
			}
			log.Warn().Msg("not connected yet, the room will sync once the connection is up")
		}
		defer services.Room.Leave()

		g.Go(func() error {
			printTimer(ctx, services.Engine)
			return nil
		})
		g.Go(func() error {
			printChat(ctx, services)
			return nil
		})
		if start {
			services.Room.Controls().Start(ctx)
		}
		go readCommands(ctx, services)
	}

	<-ctx.Done()
	return g.Wait()
}

// watchUserTopics subscribes the friends and DM topics on every connect.
func watchUserTopics(ctx context.Context, services *Services) {
	states, unwatch := services.Session.ConnectionState().Subscribe()
	defer unwatch()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if state != realtime.Connected {
				continue
			}
			services.Friends.Subscribe()
			services.Inbox.Subscribe()
		}
	}
}

func printTimer(ctx context.Context, engine *timer.Engine) {
	views, unsubscribe := engine.State().Subscribe()
	defer unsubscribe()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				return
			}
			if view == nil {
				continue
			}
			line := formatView(view)
			if line != last {
				fmt.Fprintln(os.Stdout, line)
				last = line
			}
		}
	}
}

func formatView(v *timer.View) string {
	status := "paused"
	switch {
	case v.AwaitingServer:
		status = "waiting for server"
	case v.Running:
		status = "running"
	}
	return fmt.Sprintf("[%s] %s (%s)", v.Phase, v.Display, status)
}

func printChat(ctx context.Context, services *Services) {
	chatRoom := services.Room.Chat()

	history, err := chatRoom.History(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load chat history")
	}
	for _, msg := range history {
		fmt.Fprintf(os.Stdout, "%s: %s\n", msg.User.Name(), msg.Message)
	}

	messages, unsubscribe := chatRoom.Messages().Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stdout, "%s: %s\n", msg.User.Name(), msg.Message)
		}
	}
}

// readCommands turns stdin lines into chat messages. Lines starting with a
// slash are timer commands, room commands or AI questions.
func readCommands(ctx context.Context, services *Services) {
	controls := services.Room.Controls()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		command, arg, _ := strings.Cut(line, " ")

		switch command {
		case "":
			continue
		case "/start":
			controls.Start(ctx)
		case "/pause":
			controls.Pause(ctx)
		case "/resume":
			controls.Resume(ctx)
		case "/reset":
			controls.Reset(ctx)
		case "/durations":
			focus, brk, err := parseDurations(arg)
			if err != nil {
				log.Warn().Err(err).Msg("usage: /durations <focus minutes> <break minutes>")
				continue
			}
			if err := services.Room.UpdateDurations(ctx, focus, brk); err != nil {
				log.Warn().Err(err).Msg("failed to update durations")
			}
		case "/members":
			for _, m := range services.Room.Members() {
				fmt.Fprintf(os.Stdout, "- %s (%s)\n", m.Name(), strings.ToLower(m.Role))
			}
		case "/ai":
			if err := services.Room.Chat().AskAI(ctx, arg); err != nil {
				log.Warn().Err(err).Msg("failed to ask the assistant")
			}
		default:
			if err := services.Room.SendMessage(ctx, line); err != nil {
				log.Warn().Err(err).Msg("failed to send message")
			}
		}
	}
}

func parseDurations(arg string) (focus, brk int, err error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two values, got %d", len(fields))
	}
	if focus, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("focus minutes: %w", err)
	}
	if brk, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("break minutes: %w", err)
	}
	return focus, brk, nil
}
