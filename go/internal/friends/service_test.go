package friends

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/realtime/realtimetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeAPI struct {
	mu       sync.Mutex
	friends  []models.User
	pending  []models.Friendship
	calls    map[string]int
	lastSeen int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) GetFriends(context.Context, uuid.UUID) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["friends"]++
	return f.friends, nil
}

func (f *fakeAPI) GetPendingRequests(context.Context, uuid.UUID) ([]models.Friendship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["pending"]++
	return f.pending, nil
}

func (f *fakeAPI) UpdateLastSeen(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen++
	return nil
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) lastSeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen
}

func startService(t *testing.T, api *fakeAPI) (*Service, *realtimetest.Link, *clockwork.FakeClock, uuid.UUID) {
	t.Helper()

	session, dialer := realtimetest.Connect(t)
	clock := clockwork.NewFakeClock()
	userID := uuid.New()
	s := NewService(userID, session, api, Config{Clock: clock})
	require.True(t, s.Subscribe())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})

	require.Eventually(t, func() bool { return api.lastSeenCount() == 1 }, waitFor, tick)
	return s, dialer.Last(), clock, userID
}

func TestRunLoadsListsAndTouchesPresence(t *testing.T) {
	api := newFakeAPI()
	friend := models.User{ID: uuid.New(), DisplayName: "Léa"}
	api.friends = []models.User{friend}

	s, _, clock, _ := startService(t, api)

	assert.Equal(t, []models.User{friend}, s.Friends().Get())
	assert.Equal(t, 1, api.count("pending"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultPresenceInterval)
	require.Eventually(t, func() bool { return api.lastSeenCount() == 2 }, waitFor, tick)
}

func TestFriendAcceptedRefreshesBothLists(t *testing.T) {
	api := newFakeAPI()
	s, link, _, userID := startService(t, api)

	notifications, unsubscribe := s.Notifications().Subscribe()
	defer unsubscribe()

	link.Publish(realtime.UserFriendsTopic(userID), []byte(`{"type":"FRIEND_ACCEPTED","userId":"`+uuid.NewString()+`","data":{"acceptedUserName":"Tom"}}`))

	select {
	case n := <-notifications:
		assert.Equal(t, models.FriendAccepted, n.Type)
	case <-time.After(waitFor):
		t.Fatal("no notification")
	}
	require.Eventually(t, func() bool {
		return api.count("friends") == 2 && api.count("pending") == 2
	}, waitFor, tick)
}

func TestFriendRequestRefreshesPendingOnly(t *testing.T) {
	api := newFakeAPI()
	_, link, _, userID := startService(t, api)

	api.mu.Lock()
	api.pending = []models.Friendship{{RequesterID: uuid.New(), TargetID: userID, Status: models.FriendshipStatusPending}}
	api.mu.Unlock()

	link.Publish(realtime.UserFriendsTopic(userID), []byte(`{"type":"FRIEND_REQUEST","userId":"`+uuid.NewString()+`"}`))

	require.Eventually(t, func() bool { return api.count("pending") == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return api.count("friends") > 1 }, 50*time.Millisecond, tick)
}

func TestOnlineStatusFromBothSources(t *testing.T) {
	api := newFakeAPI()
	s, link, _, userID := startService(t, api)

	statuses, unsubscribe := s.OnlineStatus().Subscribe()
	defer unsubscribe()

	alice, bob := uuid.New(), uuid.New()
	link.Publish(realtime.FriendsStatusTopic, []byte(`{"userId":"`+alice.String()+`","isOnline":true,"lastSeenAt":1740819600000}`))
	link.Publish(realtime.UserFriendsTopic(userID), []byte(`{"type":"ONLINE_STATUS_CHANGED","userId":"`+bob.String()+`","data":{"userId":"`+bob.String()+`","isOnline":false}}`))

	got := map[uuid.UUID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case st := <-statuses:
			got[st.UserID] = st.IsOnline
		case <-time.After(waitFor):
			t.Fatal("missing status")
		}
	}
	assert.Equal(t, map[uuid.UUID]bool{alice: true, bob: false}, got)
	assert.True(t, s.IsFriendOnline(alice))
	assert.False(t, s.IsFriendOnline(bob))
}

func TestIsFriendOnlineFallsBackToLastSeen(t *testing.T) {
	api := newFakeAPI()
	clock := clockwork.NewFakeClock()
	recent, stale := uuid.New(), uuid.New()
	api.friends = []models.User{
		{ID: recent, LastSeenAt: models.NewTimestamp(clock.Now().Add(-4 * time.Minute))},
		{ID: stale, LastSeenAt: models.NewTimestamp(clock.Now().Add(-6 * time.Minute))},
	}

	session, _ := realtimetest.NewSession(t, realtime.Config{})
	s := NewService(uuid.New(), session, api, Config{Clock: clock})
	s.refreshLists(context.Background(), refreshFriends)

	assert.True(t, s.IsFriendOnline(recent))
	assert.False(t, s.IsFriendOnline(stale))
	assert.False(t, s.IsFriendOnline(uuid.New()))
}

func TestIsOnline(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	assert.False(t, IsOnline(nil, now))
	assert.True(t, IsOnline(at(-time.Minute), now))
	assert.True(t, IsOnline(at(-OnlineWindow+time.Second), now))
	assert.False(t, IsOnline(at(-OnlineWindow), now))
}

func TestSubscribeWhileDisconnected(t *testing.T) {
	session, _ := realtimetest.NewSession(t, realtime.Config{})
	s := NewService(uuid.New(), session, newFakeAPI(), Config{})

	assert.False(t, s.Subscribe())
	s.Close()
}
