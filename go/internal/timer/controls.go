package timer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// API is the REST surface that drives the server-side timer.
type API interface {
	StartTimer(ctx context.Context, roomID uuid.UUID) error
	PauseTimer(ctx context.Context, roomID uuid.UUID) error
	ResumeTimer(ctx context.Context, roomID uuid.UUID) error
	ResetTimer(ctx context.Context, roomID uuid.UUID) error
}

// Controls issues timer commands for one room. Commands are fire-and-log:
// the resulting state arrives as a timer event, and failures are not
// retried.
type Controls struct {
	api    API
	roomID uuid.UUID
}

func NewControls(api API, roomID uuid.UUID) *Controls {
	return &Controls{api: api, roomID: roomID}
}

func (c *Controls) Start(ctx context.Context) {
	c.do(ctx, "start", c.api.StartTimer)
}

func (c *Controls) Pause(ctx context.Context) {
	c.do(ctx, "pause", c.api.PauseTimer)
}

func (c *Controls) Resume(ctx context.Context) {
	c.do(ctx, "resume", c.api.ResumeTimer)
}

func (c *Controls) Reset(ctx context.Context) {
	c.do(ctx, "reset", c.api.ResetTimer)
}

func (c *Controls) do(ctx context.Context, action string, call func(context.Context, uuid.UUID) error) {
	if err := call(ctx, c.roomID); err != nil {
		log.Error().Err(err).Str("room_id", c.roomID.String()).Str("action", action).Msg("timer command failed")
		return
	}
	log.Info().Str("room_id", c.roomID.String()).Str("action", action).Msg("timer command sent")
}
