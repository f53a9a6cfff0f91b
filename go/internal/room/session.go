// Package room ties the timer engine and the room chat to the lifetime of
// one room visit.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/chat"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyEntered = errors.New("room: already entered")
	ErrNotEntered     = errors.New("room: not entered")
	ErrLeft           = errors.New("room: session already left")
	ErrBadDuration    = errors.New("room: durations must be positive minutes")
)

// Transport is the part of realtime.Session a room visit needs.
type Transport interface {
	chat.Transport
	ConnectionState() *signal.Value[realtime.ConnectionState]
	WaitForConnection(ctx context.Context) error
}

// API is the REST surface a room visit needs.
type API interface {
	chat.RoomAPI
	timer.API
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.RoomMember, error)
	UpdateDurations(ctx context.Context, roomID uuid.UUID, req models.RoomDurationUpdateRequest) error
}

// Session is one visit to a room. Its subscriptions are re-established
// every time the transport reconnects. A Session cannot be re-entered after
// Leave.
type Session struct {
	roomID    uuid.UUID
	transport Transport
	api       API
	engine    *timer.Engine
	chat      *chat.Room
	controls  *timer.Controls

	mu       sync.Mutex
	entered  bool
	left     bool
	room     *models.Room
	members  []models.RoomMember
	timerSub *realtime.Subscription
	unwatch  func()
	watching chan struct{}
}

func NewSession(roomID, userID uuid.UUID, transport Transport, api API, engine *timer.Engine) *Session {
	return &Session{
		roomID:    roomID,
		transport: transport,
		api:       api,
		engine:    engine,
		chat:      chat.NewRoom(roomID, userID, transport, api),
		controls:  timer.NewControls(api, roomID),
	}
}

func (s *Session) Engine() *timer.Engine {
	return s.engine
}

func (s *Session) Chat() *chat.Room {
	return s.chat
}

func (s *Session) Controls() *timer.Controls {
	return s.controls
}

// Room returns the snapshot loaded on Enter.
func (s *Session) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Members returns the member list loaded on Enter. It is empty when the
// list could not be loaded.
func (s *Session) Members() []models.RoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RoomMember(nil), s.members...)
}

// Enter loads the room, seeds the timer and subscribes to the room topics
// once the transport is connected. A connection timeout is returned to the
// caller but the visit stays active: subscriptions happen whenever the
// transport connects later.
func (s *Session) Enter(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.left:
		s.mu.Unlock()
		return ErrLeft
	case s.entered:
		s.mu.Unlock()
		return ErrAlreadyEntered
	}
	s.mu.Unlock()

	room, err := s.api.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("enter room %s: %w", s.roomID, err)
	}
	members, err := s.api.GetMembers(ctx, s.roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID.String()).Msg("failed to load room members")
	}

	s.mu.Lock()
	if s.entered || s.left {
		s.mu.Unlock()
		return ErrAlreadyEntered
	}
	s.entered = true
	s.room = room
	s.members = members
	s.engine.Initialize(room)

	states, unwatch := s.transport.ConnectionState().Subscribe()
	s.unwatch = unwatch
	s.watching = make(chan struct{})
	go s.watch(states, s.watching)
	s.mu.Unlock()

	log.Info().
		Str("room_id", s.roomID.String()).
		Str("subject", room.Subject).
		Int("members", len(members)).
		Msg("entered room")

	if err := s.transport.WaitForConnection(ctx); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID.String()).Msg("room entered without a live connection")
		return err
	}
	return nil
}

func (s *Session) watch(states <-chan realtime.ConnectionState, done chan<- struct{}) {
	defer close(done)
	for state := range states {
		if state == realtime.Connected {
			s.subscribe()
		}
	}
}

func (s *Session) subscribe() {
	timerSub := s.transport.Subscribe(realtime.RoomTimerTopic(s.roomID), s.handleTimer)
	chatOK := s.chat.Subscribe()

	s.mu.Lock()
	s.timerSub = timerSub
	s.mu.Unlock()

	if timerSub == nil || !chatOK {
		log.Warn().Str("room_id", s.roomID.String()).Msg("room subscriptions unavailable, waiting for next connection")
		return
	}
	log.Debug().Str("room_id", s.roomID.String()).Msg("room topics subscribed")
}

func (s *Session) handleTimer(payload []byte) {
	if err := s.engine.HandleFrame(payload); err != nil {
		s.transport.ReportMalformed(realtime.RoomTimerTopic(s.roomID), err)
	}
}

// SendMessage publishes a chat message to the room. While the transport is
// not connected the message is posted over REST instead of being dropped.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if s.transport.ConnectionState().Get() == realtime.Connected {
		return s.chat.Send(text)
	}
	log.Info().Str("room_id", s.roomID.String()).Msg("not connected, posting message over REST")
	return s.chat.Post(ctx, text)
}

// UpdateDurations changes the focus and break lengths, in minutes, then
// reloads the room and re-seeds the timer from it.
func (s *Session) UpdateDurations(ctx context.Context, focus, brk int) error {
	if focus <= 0 || brk <= 0 {
		return ErrBadDuration
	}
	s.mu.Lock()
	entered := s.entered
	s.mu.Unlock()
	if !entered {
		return ErrNotEntered
	}

	err := s.api.UpdateDurations(ctx, s.roomID, models.RoomDurationUpdateRequest{
		FocusDuration: &focus,
		BreakDuration: &brk,
	})
	if err != nil {
		return fmt.Errorf("update durations of room %s: %w", s.roomID, err)
	}
	room, err := s.api.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("reload room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entered {
		return ErrNotEntered
	}
	s.room = room
	s.engine.Initialize(room)
	log.Info().Str("room_id", s.roomID.String()).Int("focus_min", focus).Int("break_min", brk).Msg("room durations updated")
	return nil
}

// Leave cancels the room subscriptions and cleans up the timer.
func (s *Session) Leave() error {
	s.mu.Lock()
	if !s.entered {
		s.mu.Unlock()
		return ErrNotEntered
	}
	s.entered = false
	s.left = true
	unwatch, watching := s.unwatch, s.watching
	s.unwatch, s.watching = nil, nil
	s.mu.Unlock()

	unwatch()
	<-watching

	s.mu.Lock()
	timerSub := s.timerSub
	s.timerSub = nil
	s.mu.Unlock()

	if timerSub != nil {
		timerSub.Cancel()
	}
	s.chat.Close()
	s.engine.Cleanup()

	log.Info().Str("room_id", s.roomID.String()).Msg("left room")
	return nil
}
