package inspector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/studybuddy/go/internal/models"
	"github.com/mcdev12/studybuddy/go/internal/realtime"
	"github.com/mcdev12/studybuddy/go/internal/realtime/realtimetest"
	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStateReportsConnectionAndTimer(t *testing.T) {
	session, _ := realtimetest.Connect(t)
	roomID := uuid.New()
	session.Subscribe(realtime.RoomTimerTopic(roomID), func([]byte) {})

	engine := timer.NewEngine(timer.Config{})
	engine.Initialize(&models.Room{ID: roomID})
	defer engine.Cleanup()

	h := New(session, engine, prometheus.NewRegistry()).Handler()
	rec := get(t, h, "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Connection    string   `json:"connection"`
		Subscriptions []string `json:"subscriptions"`
		Timer         struct {
			Display string `json:"display"`
			Phase   string `json:"phase"`
		} `json:"timer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connected", body.Connection)
	assert.Equal(t, []string{realtime.RoomTimerTopic(roomID)}, body.Subscriptions)
	assert.Equal(t, "25:00", body.Timer.Display)
	assert.Equal(t, "focus", body.Timer.Phase)
}

func TestHealth(t *testing.T) {
	session, _ := realtimetest.NewSession(t, realtime.Config{})
	h := New(session, nil, prometheus.NewRegistry()).Handler()

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"healthy":false,"connection":"disconnected"}`, rec.Body.String())

	connected, _ := realtimetest.Connect(t)
	rec = get(t, New(connected, nil, prometheus.NewRegistry()).Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := realtime.NewMetrics(reg)
	session := realtime.NewSession(&realtimetest.Dialer{}, realtime.Config{Metrics: metrics})
	session.Send("app/rooms/x/messages", "dropped")

	rec := get(t, New(session, nil, reg).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studybuddy_realtime_publishes_dropped_total 1")
}

func TestCORSPreflight(t *testing.T) {
	session, _ := realtimetest.NewSession(t, realtime.Config{})
	h := New(session, nil, prometheus.NewRegistry()).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/state", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
