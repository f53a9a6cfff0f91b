package realtime

import (
	"fmt"

	"github.com/google/uuid"
)

// Topic names are the stable contract with the backend. They are
// transport-neutral; each Link maps them to its own addressing scheme.

// RoomTimerTopic carries timer events for a room.
func RoomTimerTopic(roomID uuid.UUID) string {
	return fmt.Sprintf("rooms/%s/timer", roomID)
}

// RoomMessagesTopic carries chat messages (human and AI) for a room.
func RoomMessagesTopic(roomID uuid.UUID) string {
	return fmt.Sprintf("rooms/%s/messages", roomID)
}

// RoomSendTopic is where the client publishes chat messages for a room.
func RoomSendTopic(roomID uuid.UUID) string {
	return fmt.Sprintf("app/rooms/%s/messages", roomID)
}

// UserFriendsTopic carries friend notifications addressed to a user.
func UserFriendsTopic(userID uuid.UUID) string {
	return fmt.Sprintf("users/%s/friends", userID)
}

// FriendsStatusTopic carries presence updates for all users.
const FriendsStatusTopic = "friends/status"

// UserDMTopic carries direct messages delivered to a user.
func UserDMTopic(userID uuid.UUID) string {
	return fmt.Sprintf("user/%s/queue/dm", userID)
}
