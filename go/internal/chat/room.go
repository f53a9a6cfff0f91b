package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/rs/zerolog/log"
)

// ErrEmptyMessage is returned for blank messages.
var ErrEmptyMessage = errors.New("chat: empty message")

// RoomAPI is the REST surface used by Room.
type RoomAPI interface {
	GetMessages(ctx context.Context, roomID uuid.UUID) ([]models.RoomMessage, error)
	PostMessage(ctx context.Context, roomID uuid.UUID, req models.PostRoomMessageRequest) error
	PostAIMessage(ctx context.Context, roomID uuid.UUID, req models.PostRoomMessageRequest) (*models.RoomMessage, error)
}

// Room is the chat of one study room. Messages from people and from the AI
// participant arrive on the same topic.
type Room struct {
	roomID    uuid.UUID
	userID    uuid.UUID
	transport Transport
	api       RoomAPI
	messages  *signal.Stream[models.RoomMessage]

	mu  sync.Mutex
	sub *realtime.Subscription
}

func NewRoom(roomID, userID uuid.UUID, transport Transport, api RoomAPI) *Room {
	return &Room{
		roomID:    roomID,
		userID:    userID,
		transport: transport,
		api:       api,
		messages:  signal.NewStream[models.RoomMessage]("room-messages"),
	}
}

// Messages streams decoded room messages.
func (r *Room) Messages() *signal.Stream[models.RoomMessage] {
	return r.messages
}

// Subscribe (re)subscribes to the room's message topic. It reports false
// when the session is not connected.
func (r *Room) Subscribe() bool {
	topic := realtime.RoomMessagesTopic(r.roomID)
	sub := r.transport.Subscribe(topic, r.handle)

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return sub != nil
}

func (r *Room) handle(payload []byte) {
	var msg models.RoomMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.transport.ReportMalformed(realtime.RoomMessagesTopic(r.roomID), err)
		return
	}
	r.messages.Publish(msg)
}

// History loads the messages posted before the client joined.
func (r *Room) History(ctx context.Context) ([]models.RoomMessage, error) {
	messages, err := r.api.GetMessages(ctx, r.roomID)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return messages, nil
}

// Send publishes a message to the room. Like every realtime publish it is
// dropped, with a warning, while disconnected.
func (r *Room) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	r.transport.Send(realtime.RoomSendTopic(r.roomID), models.PostRoomMessageRequest{
		UserID:  r.userID,
		Message: text,
	})
	return nil
}

// Post stores a message over REST. The backend broadcasts it on the room
// topic, so it reaches subscribers like a published message.
func (r *Room) Post(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	err := r.api.PostMessage(ctx, r.roomID, models.PostRoomMessageRequest{
		UserID:  r.userID,
		Message: text,
	})
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// AskAI posts a question for the AI participant. Its answer is delivered
// asynchronously through Messages.
func (r *Room) AskAI(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyMessage
	}
	_, err := r.api.PostAIMessage(ctx, r.roomID, models.PostRoomMessageRequest{
		UserID:  r.userID,
		Message: question,
	})
	if err != nil {
		return fmt.Errorf("ask AI: %w", err)
	}
	log.Info().Str("room_id", r.roomID.String()).Msg("question sent to AI participant")
	return nil
}

// Close cancels the subscription and ends the message stream.
func (r *Room) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	r.messages.Close()
}
