package models

// TimerEvent is the payload pushed on rooms/{roomId}/timer whenever the
// backend starts, pauses, resumes, resets or flips the phase of a room timer.
// Durations are in minutes; zero means "unchanged".
type TimerEvent struct {
	TimerRunning   bool       `json:"timerRunning"`
	TimerStartedAt *Timestamp `json:"timerStartedAt"`
	IsOnBreak      bool       `json:"isOnBreak"`
	FocusDuration  int        `json:"focusDuration"`
	BreakDuration  int        `json:"breakDuration"`
}
