package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FriendshipStatus is the state of a friendship edge.
type FriendshipStatus string

const (
	FriendshipStatusPending  FriendshipStatus = "pending"
	FriendshipStatusAccepted FriendshipStatus = "accepted"
)

// Friendship links a requester to a target user.
type Friendship struct {
	RequesterID uuid.UUID        `json:"requesterId"`
	TargetID    uuid.UUID        `json:"targetId"`
	Requester   *User            `json:"requester,omitempty"`
	Target      *User            `json:"target,omitempty"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   *Timestamp       `json:"createdAt,omitempty"`
}

// OnlineStatus is a presence update for a single user.
type OnlineStatus struct {
	UserID     uuid.UUID  `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *Timestamp `json:"lastSeenAt,omitempty"`
}

// FriendNotificationType identifies a friend notification.
type FriendNotificationType string

const (
	FriendRequest       FriendNotificationType = "FRIEND_REQUEST"
	FriendAccepted      FriendNotificationType = "FRIEND_ACCEPTED"
	FriendRejected      FriendNotificationType = "FRIEND_REJECTED"
	OnlineStatusChanged FriendNotificationType = "ONLINE_STATUS_CHANGED"
)

// FriendNotification is the payload pushed on users/{userId}/friends.
// Data is interpreted according to Type.
type FriendNotification struct {
	Type   FriendNotificationType `json:"type"`
	UserID uuid.UUID              `json:"userId"`
	Data   json.RawMessage        `json:"data,omitempty"`
}
