package models

import (
	"github.com/google/uuid"
)

// Default pomodoro durations in minutes, applied when a room omits them.
const (
	DefaultFocusMinutes = 25
	DefaultBreakMinutes = 5
)

// Room is a study room record. The timer fields are the point-in-time
// snapshot used to seed the client-side timer view.
type Room struct {
	ID             uuid.UUID  `json:"id"`
	Owner          *User      `json:"owner,omitempty"`
	Subject        string     `json:"subject"`
	Level          string     `json:"level"`
	Topic          string     `json:"topic,omitempty"`
	Institution    string     `json:"institution,omitempty"`
	FocusDuration  int        `json:"focusDuration"`
	BreakDuration  int        `json:"breakDuration"`
	ThemeConfig    string     `json:"themeConfig,omitempty"`
	IsActive       bool       `json:"isActive"`
	CreatedAt      *Timestamp `json:"createdAt,omitempty"`
	TimerRunning   bool       `json:"timerRunning"`
	TimerStartedAt *Timestamp `json:"timerStartedAt,omitempty"`
	IsOnBreak      bool       `json:"isOnBreak"`
}

// RoomMessage is a chat message posted in a room, including AI replies.
type RoomMessage struct {
	ID        uuid.UUID  `json:"id"`
	Room      *Room      `json:"room,omitempty"`
	User      *User      `json:"user,omitempty"`
	Message   string     `json:"message"`
	CreatedAt *Timestamp `json:"createdAt,omitempty"`
}

// PostRoomMessageRequest is the body for posting a room message, over REST
// or over the realtime publish topic.
type PostRoomMessageRequest struct {
	UserID  uuid.UUID `json:"userId"`
	Message string    `json:"message"`
}

// RoomDurationUpdateRequest changes a room's focus/break durations (minutes).
type RoomDurationUpdateRequest struct {
	FocusDuration *int `json:"focusDuration,omitempty"`
	BreakDuration *int `json:"breakDuration,omitempty"`
}

// RoomMember is a user that joined a room. Role is the backend's user role,
// e.g. "STUDENT".
type RoomMember struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
}

// Name returns the display name, falling back to the email address.
func (m RoomMember) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Email
}
