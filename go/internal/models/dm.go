package models

import (
	"github.com/google/uuid"
)

// DMMessage is a direct message between two users.
type DMMessage struct {
	ID           uuid.UUID  `json:"id"`
	SenderID     uuid.UUID  `json:"senderId"`
	SenderName   string     `json:"senderName"`
	ReceiverID   uuid.UUID  `json:"receiverId"`
	ReceiverName string     `json:"receiverName"`
	Message      string     `json:"message"`
	CreatedAt    *Timestamp `json:"createdAt,omitempty"`
}

// DMMessageEvent is pushed on user/{userId}/queue/dm when a direct message
// is delivered to that user.
type DMMessageEvent struct {
	Type         string     `json:"type"`
	MessageID    uuid.UUID  `json:"messageId"`
	SenderID     uuid.UUID  `json:"senderId"`
	SenderName   string     `json:"senderName"`
	ReceiverID   uuid.UUID  `json:"receiverId"`
	ReceiverName string     `json:"receiverName"`
	Message      string     `json:"message"`
	CreatedAt    *Timestamp `json:"createdAt,omitempty"`
}

// DMMessageRequest sends a direct message.
type DMMessageRequest struct {
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Message    string    `json:"message"`
}

// ConversationSummary is one entry of a user's DM inbox.
type ConversationSummary struct {
	OtherUserID     uuid.UUID  `json:"otherUserId"`
	OtherUserName   string     `json:"otherUserName"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageTime *Timestamp `json:"lastMessageTime,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
}
