package studybuddy_client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
)

// GetRoom fetches the room record, including the timer snapshot.
func (c *Client) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/%s", roomsEndpoint, roomID), &room); err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return &room, nil
}

// GetMembers lists the users who joined a room.
func (c *Client) GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.RoomMember, error) {
	var members []models.RoomMember
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/%s/members", roomsEndpoint, roomID), &members); err != nil {
		return nil, fmt.Errorf("failed to get members of room %s: %w", roomID, err)
	}
	return members, nil
}

// UpdateDurations changes the focus and break lengths of a room. The backend
// answers with an empty body; callers reload the room to see the result.
func (c *Client) UpdateDurations(ctx context.Context, roomID uuid.UUID, req models.RoomDurationUpdateRequest) error {
	endpoint := fmt.Sprintf("%s/%s/durations", roomsEndpoint, roomID)
	if err := c.SendJSON(ctx, http.MethodPatch, endpoint, req, nil); err != nil {
		return fmt.Errorf("failed to update durations of room %s: %w", roomID, err)
	}
	return nil
}

// StartTimer, PauseTimer, ResumeTimer and ResetTimer drive the server-side
// timer. The new state is broadcast on the room timer topic.

func (c *Client) StartTimer(ctx context.Context, roomID uuid.UUID) error {
	return c.timerAction(ctx, roomID, "start")
}

func (c *Client) PauseTimer(ctx context.Context, roomID uuid.UUID) error {
	return c.timerAction(ctx, roomID, "pause")
}

func (c *Client) ResumeTimer(ctx context.Context, roomID uuid.UUID) error {
	return c.timerAction(ctx, roomID, "resume")
}

func (c *Client) ResetTimer(ctx context.Context, roomID uuid.UUID) error {
	return c.timerAction(ctx, roomID, "reset")
}

func (c *Client) timerAction(ctx context.Context, roomID uuid.UUID, action string) error {
	endpoint := fmt.Sprintf("%s/%s/%s", timerEndpoint, roomID, action)
	if _, err := c.Post(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("failed to %s timer for room %s: %w", action, roomID, err)
	}
	return nil
}
