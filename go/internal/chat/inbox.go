package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/signal"
)

// DMAPI is the REST surface used by Inbox.
type DMAPI interface {
	GetConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	GetConversation(ctx context.Context, userA, userB uuid.UUID) ([]models.DMMessage, error)
	SendDM(ctx context.Context, req models.DMMessageRequest) (*models.DMMessage, error)
}

// Inbox receives the direct messages pushed to one user.
type Inbox struct {
	userID    uuid.UUID
	transport Transport
	api       DMAPI
	events    *signal.Stream[models.DMMessageEvent]

	mu  sync.Mutex
	sub *realtime.Subscription
}

func NewInbox(userID uuid.UUID, transport Transport, api DMAPI) *Inbox {
	return &Inbox{
		userID:    userID,
		transport: transport,
		api:       api,
		events:    signal.NewStream[models.DMMessageEvent]("direct-messages"),
	}
}

// Events streams incoming direct messages.
func (i *Inbox) Events() *signal.Stream[models.DMMessageEvent] {
	return i.events
}

// Subscribe (re)subscribes to the user's DM queue. It reports false when the
// session is not connected.
func (i *Inbox) Subscribe() bool {
	sub := i.transport.Subscribe(realtime.UserDMTopic(i.userID), i.handle)

	i.mu.Lock()
	i.sub = sub
	i.mu.Unlock()
	return sub != nil
}

func (i *Inbox) handle(payload []byte) {
	var ev models.DMMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		i.transport.ReportMalformed(realtime.UserDMTopic(i.userID), err)
		return
	}
	i.events.Publish(ev)
}

// Send stores a direct message through the API. Delivery to the receiver
// happens server-side.
func (i *Inbox) Send(ctx context.Context, to uuid.UUID, text string) (*models.DMMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	msg, err := i.api.SendDM(ctx, models.DMMessageRequest{
		SenderID:   i.userID,
		ReceiverID: to,
		Message:    text,
	})
	if err != nil {
		return nil, fmt.Errorf("send direct message: %w", err)
	}
	return msg, nil
}

func (i *Inbox) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return i.api.GetConversations(ctx, i.userID)
}

func (i *Inbox) Conversation(ctx context.Context, with uuid.UUID) ([]models.DMMessage, error) {
	return i.api.GetConversation(ctx, i.userID, with)
}

// Close cancels the subscription and ends the event stream.
func (i *Inbox) Close() {
	i.mu.Lock()
	sub := i.sub
	i.sub = nil
	i.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	i.events.Close()
}
