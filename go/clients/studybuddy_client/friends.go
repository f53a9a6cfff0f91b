package studybuddy_client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
)

func (c *Client) GetFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
	var friends []models.User
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/%s/friends", friendsEndpoint, userID), &friends); err != nil {
		return nil, fmt.Errorf("failed to get friends of %s: %w", userID, err)
	}
	return friends, nil
}

func (c *Client) GetPendingRequests(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	var pending []models.Friendship
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/%s/pending-requests", friendsEndpoint, userID), &pending); err != nil {
		return nil, fmt.Errorf("failed to get pending requests of %s: %w", userID, err)
	}
	return pending, nil
}

// UpdateLastSeen records presence for userID.
func (c *Client) UpdateLastSeen(ctx context.Context, userID uuid.UUID) error {
	if _, err := c.Post(ctx, fmt.Sprintf("%s/%s/update-last-seen", usersEndpoint, userID), nil); err != nil {
		return fmt.Errorf("failed to update last seen of %s: %w", userID, err)
	}
	return nil
}
