package clients

import (
	"os"
	"strings"
)

// TokenSource returns the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token() string {
	return string(t)
}

// EnvToken reads the token from an environment variable on every call, so
// a rotated token is picked up without restarting.
type EnvToken string

func (e EnvToken) Token() string {
	return strings.TrimSpace(os.Getenv(string(e)))
}
