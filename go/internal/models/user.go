package models

import (
	"github.com/google/uuid"
)

// User represents a study-room participant as returned by the REST API
type User struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Verified    bool       `json:"verified"`
	CreatedAt   *Timestamp `json:"createdAt,omitempty"`
	LastSeenAt  *Timestamp `json:"lastSeenAt,omitempty"`
}

// Name returns the display name, falling back to the email address.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
