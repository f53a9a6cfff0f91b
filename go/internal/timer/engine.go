// Package timer reconciles server-pushed room timer events with a locally
// ticking countdown. The server is the only authority over phase and
// running; the local clock only interpolates elapsed time between events.
package timer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/rs/zerolog/log"
)

// Notifier is told when a running phase reaches zero locally.
type Notifier interface {
	PhaseComplete(roomID uuid.UUID, phase Phase)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(roomID uuid.UUID, phase Phase)

func (f NotifierFunc) PhaseComplete(roomID uuid.UUID, phase Phase) {
	f(roomID, phase)
}

// Config configures an Engine.
type Config struct {
	Clock        clockwork.Clock
	Notifier     Notifier
	TickInterval time.Duration
}

// Engine holds the canonical local view of one room's timer.
type Engine struct {
	clock    clockwork.Clock
	notifier Notifier

	mu       sync.Mutex
	state    *State
	notified bool
	ticker   *ticker

	view *signal.Value[*View]
}

// NewEngine creates an Engine with no room loaded.
func NewEngine(config Config) *Engine {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}

	e := &Engine{
		clock:    config.Clock,
		notifier: config.Notifier,
		view:     signal.NewValue[*View](nil),
	}
	e.ticker = newTicker(config.Clock, config.TickInterval, e.tick)
	return e
}

// State returns the replayable timer view signal. It holds nil while no
// room is loaded.
func (e *Engine) State() *signal.Value[*View] {
	return e.view
}

// Snapshot returns the current view, or nil when no room is loaded.
func (e *Engine) Snapshot() *View {
	return e.view.Get()
}

// Initialize loads the timer from a room record. A running timer is caught
// up immediately so late joiners see the true elapsed time.
func (e *Engine) Initialize(room *models.Room) {
	st := &State{
		RoomID:        room.ID,
		Running:       room.TimerRunning,
		StartedAt:     room.TimerStartedAt.TimePtr(),
		Phase:         phaseOf(room.IsOnBreak),
		FocusDuration: minutesOr(room.FocusDuration, models.DefaultFocusMinutes),
		BreakDuration: minutesOr(room.BreakDuration, models.DefaultBreakMinutes),
	}
	normalize(st)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = st
	e.notified = false
	st.recompute(e.clock.Now())
	e.syncTickerLocked()
	e.publishLocked()

	log.Info().
		Str("room_id", st.RoomID.String()).
		Bool("running", st.Running).
		Str("phase", st.Phase.String()).
		Int("elapsed_sec", st.ElapsedSec).
		Msg("timer initialized")
}

// Merge applies an authoritative timer event. It is the only way phase and
// running change. Zero durations keep the current values. Events that
// arrive before Initialize are ignored.
func (e *Engine) Merge(ev models.TimerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		log.Debug().Msg("ignoring timer event before initialization")
		return
	}

	st := e.state
	prev := *st

	st.Running = ev.TimerRunning
	st.StartedAt = ev.TimerStartedAt.TimePtr()
	st.Phase = phaseOf(ev.IsOnBreak)
	st.FocusDuration = minutesOr(ev.FocusDuration, int(st.FocusDuration/time.Minute))
	st.BreakDuration = minutesOr(ev.BreakDuration, int(st.BreakDuration/time.Minute))
	normalize(st)

	if st.Running != prev.Running || st.Phase != prev.Phase || !sameTime(st.StartedAt, prev.StartedAt) {
		e.notified = false
	}

	st.recompute(e.clock.Now())
	e.syncTickerLocked()
	e.publishLocked()

	log.Debug().
		Str("room_id", st.RoomID.String()).
		Bool("running", st.Running).
		Str("phase", st.Phase.String()).
		Int("elapsed_sec", st.ElapsedSec).
		Int("total_sec", st.TotalSec).
		Msg("merged timer event")
}

// HandleFrame decodes a timer payload and merges it. Decode failures leave
// the state untouched.
func (e *Engine) HandleFrame(payload []byte) error {
	var ev models.TimerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode timer event: %w", err)
	}
	e.Merge(ev)
	return nil
}

// Tick re-derives elapsed time from the clock. When the running phase
// reaches zero the Notifier fires once; phase and running stay as they are
// until the server says otherwise.
func (e *Engine) Tick() {
	e.mu.Lock()
	fire, roomID, phase := e.tickLocked()
	e.mu.Unlock()

	if fire {
		e.notify(roomID, phase)
	}
}

func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if !e.ticker.current(gen) {
		e.mu.Unlock()
		return
	}
	fire, roomID, phase := e.tickLocked()
	e.mu.Unlock()

	if fire {
		e.notify(roomID, phase)
	}
}

func (e *Engine) tickLocked() (bool, uuid.UUID, Phase) {
	st := e.state
	if st == nil || !st.Running {
		return false, uuid.Nil, Focus
	}

	st.recompute(e.clock.Now())
	e.publishLocked()

	if !st.Complete() || e.notified {
		return false, uuid.Nil, Focus
	}
	e.notified = true
	return true, st.RoomID, st.Phase
}

func (e *Engine) notify(roomID uuid.UUID, phase Phase) {
	log.Info().
		Str("room_id", roomID.String()).
		Str("phase", phase.String()).
		Msg("timer phase complete, awaiting server")
	if e.notifier != nil {
		e.notifier.PhaseComplete(roomID, phase)
	}
}

// Cleanup stops the ticking clock and forgets the room.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticker.halt()
	if e.state != nil {
		log.Info().Str("room_id", e.state.RoomID.String()).Msg("timer cleaned up")
	}
	e.state = nil
	e.notified = false
	e.view.Set(nil)
}

// Ticking reports whether the local clock is running.
func (e *Engine) Ticking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticker.running()
}

func (e *Engine) syncTickerLocked() {
	if e.state.Running {
		e.ticker.start()
	} else {
		e.ticker.halt()
	}
}

func (e *Engine) publishLocked() {
	e.view.Set(newView(e.state))
}

// normalize enforces Running => StartedAt != nil.
func normalize(st *State) {
	if st.Running && st.StartedAt == nil {
		log.Warn().Str("room_id", st.RoomID.String()).Msg("running timer without start time, treating as stopped")
		st.Running = false
	}
}

func minutesOr(minutes, fallback int) time.Duration {
	if minutes <= 0 {
		minutes = fallback
	}
	return time.Duration(minutes) * time.Minute
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
