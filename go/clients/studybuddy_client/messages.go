package studybuddy_client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
)

// GetMessages returns the chat history of a room, oldest first.
func (c *Client) GetMessages(ctx context.Context, roomID uuid.UUID) ([]models.RoomMessage, error) {
	var messages []models.RoomMessage
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/%s", messagesEndpoint, roomID), &messages); err != nil {
		return nil, fmt.Errorf("failed to get messages for room %s: %w", roomID, err)
	}
	return messages, nil
}

// PostMessage stores a chat message. The backend also broadcasts it on the
// room messages topic.
func (c *Client) PostMessage(ctx context.Context, roomID uuid.UUID, req models.PostRoomMessageRequest) error {
	if err := c.SendJSON(ctx, http.MethodPost, fmt.Sprintf("%s/%s", messagesEndpoint, roomID), req, nil); err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// PostAIMessage asks the room's AI participant a question. The answer
// arrives later on the room messages topic.
func (c *Client) PostAIMessage(ctx context.Context, roomID uuid.UUID, req models.PostRoomMessageRequest) (*models.RoomMessage, error) {
	return c.postMessage(ctx, fmt.Sprintf("%s/%s/ai", messagesEndpoint, roomID), req)
}

func (c *Client) postMessage(ctx context.Context, endpoint string, req models.PostRoomMessageRequest) (*models.RoomMessage, error) {
	var msg models.RoomMessage
	if err := c.SendJSON(ctx, http.MethodPost, endpoint, req, &msg); err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}
	return &msg, nil
}
