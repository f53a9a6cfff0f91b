package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studybuddy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportSTOMP, config.Realtime.Transport)
	assert.Equal(t, 3*time.Second, config.Realtime.ReconnectDelay)
	assert.Equal(t, 15*time.Second, config.Realtime.ConnectTimeout)
	assert.Equal(t, zerolog.InfoLevel, config.Level())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
realtime:
  transport: nats
  nats_url: nats://broker:4222
  reconnect_delay: 500ms
  heartbeat_incoming: 0s
room:
  user_id: 3f1c5e8a-8f3e-4c1e-9a55-1f7d3c2b9a10
log_level: debug
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportNATS, config.Realtime.Transport)
	assert.Equal(t, "nats://broker:4222", config.Realtime.NATSURL)
	assert.Equal(t, 500*time.Millisecond, config.Realtime.ReconnectDelay)
	assert.Zero(t, config.Realtime.HeartbeatIncoming)
	assert.Equal(t, 10*time.Second, config.Realtime.HeartbeatOutgoing)
	assert.Equal(t, "3f1c5e8a-8f3e-4c1e-9a55-1f7d3c2b9a10", config.UserID().String())
	assert.Equal(t, zerolog.DebugLevel, config.Level())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "realtime:\n  reconnect_delay: 5s\n")
	t.Setenv("STUDYBUDDY_RECONNECT_DELAY", "250")
	t.Setenv("STUDYBUDDY_CONNECT_TIMEOUT", "2s")
	t.Setenv("STUDYBUDDY_API_TIMEOUT_SEC", "5")
	t.Setenv("STUDYBUDDY_TRANSPORT", "NATS")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, config.Realtime.ReconnectDelay)
	assert.Equal(t, 2*time.Second, config.Realtime.ConnectTimeout)
	assert.Equal(t, 5*time.Second, config.API.Timeout)
	assert.Equal(t, TransportNATS, config.Realtime.Transport)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, "realtime: ["))
	assert.ErrorContains(t, err, "failed to parse config")

	t.Setenv("STUDYBUDDY_TRANSPORT", "carrier-pigeon")
	t.Setenv("STUDYBUDDY_ROOM_ID", "not-a-uuid")
	_, err = Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown realtime.transport "carrier-pigeon"`)
	assert.ErrorContains(t, err, "room.room_id")
}

func TestTimezone(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	loc, err := config.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	t.Setenv("STUDYBUDDY_API_TIMEZONE", "Europe/Paris")
	config, err = Load("")
	require.NoError(t, err)
	loc, err = config.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	t.Setenv("STUDYBUDDY_API_TIMEZONE", "Mars/Olympus_Mons")
	_, err = Load("")
	assert.ErrorContains(t, err, "api.timezone")
}

func TestGetEnvAsDurationIgnoresGarbage(t *testing.T) {
	t.Setenv("STUDYBUDDY_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("STUDYBUDDY_TEST_DURATION", time.Minute))
}
