// Package friends follows friend requests and presence for the signed-in
// user.
package friends

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/signal"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPresenceInterval is how often the user's last-seen time is
	// refreshed while the service runs.
	DefaultPresenceInterval = 2 * time.Minute
	// OnlineWindow is how recent a last-seen time must be to count as online.
	OnlineWindow = 5 * time.Minute
)

// API is the REST surface used by Service.
type API interface {
	GetFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error)
	GetPendingRequests(ctx context.Context, userID uuid.UUID) ([]models.Friendship, error)
	UpdateLastSeen(ctx context.Context, userID uuid.UUID) error
}

// Transport is the part of realtime.Session the service needs.
type Transport interface {
	Subscribe(topic string, handler realtime.Handler) *realtime.Subscription
	ReportMalformed(topic string, err error)
}

type Config struct {
	Clock            clockwork.Clock
	PresenceInterval time.Duration
}

type refreshKind uint32

const (
	refreshFriends refreshKind = 1 << iota
	refreshPending
)

// Service tracks friend notifications, online status and the friend lists
// of one user.
type Service struct {
	userID    uuid.UUID
	transport Transport
	api       API
	clock     clockwork.Clock
	interval  time.Duration

	notifications *signal.Stream[models.FriendNotification]
	statuses      *signal.Stream[models.OnlineStatus]
	friends       *signal.Value[[]models.User]
	pending       *signal.Value[[]models.Friendship]

	refresh atomic.Uint32
	wake    chan struct{}

	mu     sync.Mutex
	subs   []*realtime.Subscription
	online map[uuid.UUID]models.OnlineStatus
}

func NewService(userID uuid.UUID, transport Transport, api API, config Config) *Service {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.PresenceInterval <= 0 {
		config.PresenceInterval = DefaultPresenceInterval
	}

	return &Service{
		userID:        userID,
		transport:     transport,
		api:           api,
		clock:         config.Clock,
		interval:      config.PresenceInterval,
		notifications: signal.NewStream[models.FriendNotification]("friend-notifications"),
		statuses:      signal.NewStream[models.OnlineStatus]("online-status"),
		friends:       signal.NewValue[[]models.User](nil),
		pending:       signal.NewValue[[]models.Friendship](nil),
		wake:          make(chan struct{}, 1),
		online:        make(map[uuid.UUID]models.OnlineStatus),
	}
}

// Notifications streams every friend notification addressed to the user.
func (s *Service) Notifications() *signal.Stream[models.FriendNotification] {
	return s.notifications
}

// OnlineStatus streams presence updates, from the status broadcast and from
// ONLINE_STATUS_CHANGED notifications.
func (s *Service) OnlineStatus() *signal.Stream[models.OnlineStatus] {
	return s.statuses
}

// Friends holds the latest friend list.
func (s *Service) Friends() *signal.Value[[]models.User] {
	return s.friends
}

// PendingRequests holds the latest list of incoming friend requests.
func (s *Service) PendingRequests() *signal.Value[[]models.Friendship] {
	return s.pending
}

// Subscribe (re)subscribes to the user's notification topic and to the
// presence broadcast. It reports false unless both subscriptions are live.
func (s *Service) Subscribe() bool {
	notifications := s.transport.Subscribe(realtime.UserFriendsTopic(s.userID), s.handleNotification)
	statuses := s.transport.Subscribe(realtime.FriendsStatusTopic, s.handleStatus)

	s.mu.Lock()
	s.subs = s.subs[:0]
	for _, sub := range []*realtime.Subscription{notifications, statuses} {
		if sub != nil {
			s.subs = append(s.subs, sub)
		}
	}
	s.mu.Unlock()

	return notifications != nil && statuses != nil
}

func (s *Service) handleNotification(payload []byte) {
	var n models.FriendNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		s.transport.ReportMalformed(realtime.UserFriendsTopic(s.userID), err)
		return
	}
	s.notifications.Publish(n)

	switch n.Type {
	case models.FriendAccepted:
		s.requestRefresh(refreshFriends | refreshPending)
	case models.FriendRequest, models.FriendRejected:
		s.requestRefresh(refreshPending)
	case models.OnlineStatusChanged:
		var status models.OnlineStatus
		if err := json.Unmarshal(n.Data, &status); err != nil {
			s.transport.ReportMalformed(realtime.UserFriendsTopic(s.userID), err)
			return
		}
		s.recordStatus(status)
	default:
		log.Debug().Str("type", string(n.Type)).Msg("ignoring unknown friend notification")
	}
}

func (s *Service) handleStatus(payload []byte) {
	var status models.OnlineStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		s.transport.ReportMalformed(realtime.FriendsStatusTopic, err)
		return
	}
	s.recordStatus(status)
}

func (s *Service) recordStatus(status models.OnlineStatus) {
	s.mu.Lock()
	s.online[status.UserID] = status
	s.mu.Unlock()

	s.statuses.Publish(status)
}

// IsFriendOnline prefers the latest pushed status for userID and otherwise
// falls back to the friend's last-seen time.
func (s *Service) IsFriendOnline(userID uuid.UUID) bool {
	s.mu.Lock()
	status, ok := s.online[userID]
	s.mu.Unlock()
	if ok {
		return status.IsOnline
	}

	for _, f := range s.friends.Get() {
		if f.ID == userID {
			return s.IsOnline(f.LastSeenAt)
		}
	}
	return false
}

// IsOnline reports whether lastSeen falls within OnlineWindow.
func (s *Service) IsOnline(lastSeen *models.Timestamp) bool {
	return IsOnline(lastSeen.TimePtr(), s.clock.Now())
}

// IsOnline reports whether lastSeen is less than OnlineWindow before now.
func IsOnline(lastSeen *time.Time, now time.Time) bool {
	if lastSeen == nil {
		return false
	}
	return lastSeen.After(now.Add(-OnlineWindow))
}

// Run loads the friend lists, then keeps presence fresh and applies list
// refreshes requested by notifications until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.refreshLists(ctx, refreshFriends|refreshPending)
	s.touchPresence(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.touchPresence(ctx)
		case <-s.wake:
			s.refreshLists(ctx, refreshKind(s.refresh.Swap(0)))
		}
	}
}

func (s *Service) requestRefresh(kind refreshKind) {
	s.refresh.Or(uint32(kind))
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) refreshLists(ctx context.Context, kind refreshKind) {
	if kind&refreshFriends != 0 {
		friends, err := s.api.GetFriends(ctx, s.userID)
		if err != nil {
			log.Error().Err(err).Msg("failed to refresh friends")
		} else {
			s.friends.Set(friends)
		}
	}
	if kind&refreshPending != 0 {
		pending, err := s.api.GetPendingRequests(ctx, s.userID)
		if err != nil {
			log.Error().Err(err).Msg("failed to refresh pending requests")
		} else {
			s.pending.Set(pending)
		}
	}
}

func (s *Service) touchPresence(ctx context.Context) {
	if err := s.api.UpdateLastSeen(ctx, s.userID); err != nil {
		log.Warn().Err(err).Msg("failed to update last seen")
		return
	}
	log.Debug().Str("user_id", s.userID.String()).Msg("presence updated")
}

// Close cancels the subscriptions and ends the streams.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.notifications.Close()
	s.statuses.Close()
}
