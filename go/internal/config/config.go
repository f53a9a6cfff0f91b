// Package config loads client and broker settings from an optional YAML
// file, then applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Transport selects the realtime link implementation.
type Transport string

const (
	TransportSTOMP Transport = "stomp"
	TransportNATS  Transport = "nats"
)

type Config struct {
	Realtime  RealtimeConfig  `yaml:"realtime"`
	API       APIConfig       `yaml:"api"`
	Room      RoomConfig      `yaml:"room"`
	Inspector InspectorConfig `yaml:"inspector"`
	Broker    BrokerConfig    `yaml:"broker"`
	LogLevel  string          `yaml:"log_level"`
}

type RealtimeConfig struct {
	Transport           Transport     `yaml:"transport"`
	Endpoint            string        `yaml:"endpoint"`
	NATSURL             string        `yaml:"nats_url"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	ReconnectBackoffMax time.Duration `yaml:"reconnect_backoff_max"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	HeartbeatOutgoing   time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming   time.Duration `yaml:"heartbeat_incoming"`
}

type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	TokenEnv string        `yaml:"token_env"`
	Timeout  time.Duration `yaml:"timeout"`
	// Timezone is the IANA zone the backend writes zone-less date-times in,
	// such as timerStartedAt. "Local" means the machine's zone.
	Timezone string `yaml:"timezone"`
}

type RoomConfig struct {
	UserID string `yaml:"user_id"`
	RoomID string `yaml:"room_id"`
}

type InspectorConfig struct {
	Addr string `yaml:"addr"`
}

type BrokerConfig struct {
	Addr    string `yaml:"addr"`
	NATSURL string `yaml:"nats_url"`
}

// Default returns the settings used when neither the file nor the
// environment provide a value.
func Default() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			Transport:           TransportSTOMP,
			Endpoint:            "ws://localhost:8080/ws",
			NATSURL:             "nats://localhost:4222",
			ReconnectDelay:      3 * time.Second,
			ReconnectBackoffMax: 15 * time.Second,
			ConnectTimeout:      15 * time.Second,
			HeartbeatOutgoing:   10 * time.Second,
			HeartbeatIncoming:   10 * time.Second,
		},
		API: APIConfig{
			BaseURL:  "http://localhost:8080/api",
			TokenEnv: "STUDYBUDDY_TOKEN",
			Timeout:  30 * time.Second,
			Timezone: "UTC",
		},
		Inspector: InspectorConfig{Addr: "localhost:9090"},
		Broker:    BrokerConfig{Addr: ":8080"},
		LogLevel:  "info",
	}
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	r := &c.Realtime
	r.Transport = Transport(strings.ToLower(getEnv("STUDYBUDDY_TRANSPORT", string(r.Transport))))
	r.Endpoint = getEnv("STUDYBUDDY_ENDPOINT", r.Endpoint)
	r.NATSURL = getEnv("STUDYBUDDY_NATS_URL", r.NATSURL)
	r.ReconnectDelay = getEnvAsDuration("STUDYBUDDY_RECONNECT_DELAY", r.ReconnectDelay)
	r.ReconnectBackoffMax = getEnvAsDuration("STUDYBUDDY_RECONNECT_BACKOFF_MAX", r.ReconnectBackoffMax)
	r.ConnectTimeout = getEnvAsDuration("STUDYBUDDY_CONNECT_TIMEOUT", r.ConnectTimeout)
	r.HeartbeatOutgoing = getEnvAsDuration("STUDYBUDDY_HEARTBEAT_OUTGOING", r.HeartbeatOutgoing)
	r.HeartbeatIncoming = getEnvAsDuration("STUDYBUDDY_HEARTBEAT_INCOMING", r.HeartbeatIncoming)

	c.API.BaseURL = getEnv("STUDYBUDDY_API_URL", c.API.BaseURL)
	c.API.TokenEnv = getEnv("STUDYBUDDY_TOKEN_ENV", c.API.TokenEnv)
	c.API.Timeout = time.Duration(getEnvAsInt("STUDYBUDDY_API_TIMEOUT_SEC", int(c.API.Timeout/time.Second))) * time.Second
	c.API.Timezone = getEnv("STUDYBUDDY_API_TIMEZONE", c.API.Timezone)

	c.Room.UserID = getEnv("STUDYBUDDY_USER_ID", c.Room.UserID)
	c.Room.RoomID = getEnv("STUDYBUDDY_ROOM_ID", c.Room.RoomID)
	c.Inspector.Addr = getEnv("STUDYBUDDY_INSPECTOR_ADDR", c.Inspector.Addr)
	c.Broker.Addr = getEnv("STUDYBUDDY_BROKER_ADDR", c.Broker.Addr)
	c.Broker.NATSURL = getEnv("STUDYBUDDY_BROKER_NATS_URL", c.Broker.NATSURL)
	c.LogLevel = getEnv("STUDYBUDDY_LOG_LEVEL", c.LogLevel)
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Realtime.Transport {
	case TransportSTOMP:
		if c.Realtime.Endpoint == "" {
			errs = append(errs, errors.New("realtime.endpoint is required for the stomp transport"))
		}
	case TransportNATS:
		if c.Realtime.NATSURL == "" {
			errs = append(errs, errors.New("realtime.nats_url is required for the nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown realtime.transport %q", c.Realtime.Transport))
	}
	if c.Realtime.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("realtime.reconnect_delay must be positive"))
	}
	if c.Realtime.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("realtime.connect_timeout must be positive"))
	}
	for name, id := range map[string]string{"room.user_id": c.Room.UserID, "room.room_id": c.Room.RoomID} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("api.timezone: %w", err))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Location loads API.Timezone. An empty value means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.API.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.API.Timezone)
}

// UserID parses Room.UserID. The zero UUID is returned when unset.
func (c *Config) UserID() uuid.UUID {
	id, _ := uuid.Parse(c.Room.UserID)
	return id
}

// RoomID parses Room.RoomID. The zero UUID is returned when unset.
func (c *Config) RoomID() uuid.UUID {
	id, _ := uuid.Parse(c.Room.RoomID)
	return id
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("3s") or a bare number of
// milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
