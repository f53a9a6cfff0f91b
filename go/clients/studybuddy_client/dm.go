package studybuddy_client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
)

func (c *Client) GetConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	var conversations []models.ConversationSummary
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/users/%s/conversations", dmEndpoint, userID), &conversations); err != nil {
		return nil, fmt.Errorf("failed to get conversations of %s: %w", userID, err)
	}
	return conversations, nil
}

// GetConversation returns the messages exchanged between two users.
func (c *Client) GetConversation(ctx context.Context, userA, userB uuid.UUID) ([]models.DMMessage, error) {
	query := url.Values{}
	query.Set("userA", userA.String())
	query.Set("userB", userB.String())

	var messages []models.DMMessage
	if err := c.GetJSON(ctx, dmEndpoint+"/conversation?"+query.Encode(), &messages); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return messages, nil
}

// SendDM stores a direct message; the backend pushes it to the receiver's
// DM queue.
func (c *Client) SendDM(ctx context.Context, req models.DMMessageRequest) (*models.DMMessage, error) {
	var msg models.DMMessage
	if err := c.SendJSON(ctx, http.MethodPost, dmEndpoint+"/send", req, &msg); err != nil {
		return nil, fmt.Errorf("failed to send direct message: %w", err)
	}
	return &msg, nil
}
