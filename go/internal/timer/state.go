package timer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the half of the pomodoro cycle a room is in.
type Phase int

const (
	Focus Phase = iota
	Break
)

func (p Phase) String() string {
	if p == Break {
		return "break"
	}
	return "focus"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func phaseOf(onBreak bool) Phase {
	if onBreak {
		return Break
	}
	return Focus
}

// State is the local view of a room timer. Running implies StartedAt is set.
// ElapsedSec is always derived from StartedAt and the clock.
type State struct {
	RoomID        uuid.UUID
	Running       bool
	StartedAt     *time.Time
	Phase         Phase
	FocusDuration time.Duration
	BreakDuration time.Duration
	ElapsedSec    int
	TotalSec      int
}

// PhaseDuration returns the configured length of the current phase.
func (s *State) PhaseDuration() time.Duration {
	if s.Phase == Break {
		return s.BreakDuration
	}
	return s.FocusDuration
}

// RemainingSec is max(0, TotalSec-ElapsedSec).
func (s *State) RemainingSec() int {
	return max(0, s.TotalSec-s.ElapsedSec)
}

// Progress is ElapsedSec/TotalSec clamped to [0, 1].
func (s *State) Progress() float64 {
	if s.TotalSec <= 0 {
		return 0
	}
	return min(1, max(0, float64(s.ElapsedSec)/float64(s.TotalSec)))
}

// Display formats the remaining time as mm:ss.
func (s *State) Display() string {
	return FormatClock(s.RemainingSec())
}

// Complete reports whether the running phase has reached its end locally.
func (s *State) Complete() bool {
	return s.Running && s.ElapsedSec >= s.TotalSec
}

// recompute derives TotalSec and ElapsedSec at now.
func (s *State) recompute(now time.Time) {
	s.TotalSec = int(s.PhaseDuration() / time.Second)
	if !s.Running || s.StartedAt == nil {
		s.ElapsedSec = 0
		return
	}
	s.ElapsedSec = max(0, int(now.Sub(*s.StartedAt)/time.Second))
}

// View is an immutable snapshot of State and its derived values, as
// published to observers.
type View struct {
	RoomID         uuid.UUID  `json:"roomId"`
	Phase          Phase      `json:"phase"`
	Running        bool       `json:"running"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FocusMinutes   int        `json:"focusMinutes"`
	BreakMinutes   int        `json:"breakMinutes"`
	ElapsedSec     int        `json:"elapsedSec"`
	TotalSec       int        `json:"totalSec"`
	RemainingSec   int        `json:"remainingSec"`
	Progress       float64    `json:"progress"`
	Display        string     `json:"display"`
	AwaitingServer bool       `json:"awaitingServer"`
}

func newView(s *State) *View {
	return &View{
		RoomID:         s.RoomID,
		Phase:          s.Phase,
		Running:        s.Running,
		StartedAt:      s.StartedAt,
		FocusMinutes:   int(s.FocusDuration / time.Minute),
		BreakMinutes:   int(s.BreakDuration / time.Minute),
		ElapsedSec:     s.ElapsedSec,
		TotalSec:       s.TotalSec,
		RemainingSec:   s.RemainingSec(),
		Progress:       s.Progress(),
		Display:        s.Display(),
		AwaitingServer: s.Complete(),
	}
}

// FormatClock renders seconds as mm:ss.
func FormatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
