// Package config loads the counter client configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/session"
	"github.com/bhandras/livecount/internal/websocket"
)

// DefaultEndpoint is the development node address.
const DefaultEndpoint = "http://localhost:2428"

type Config struct {
	// Endpoint is the node base URL.
	Endpoint string
	// ApplicationID identifies the installed application.
	ApplicationID string
	// ContextID scopes calls and event subscriptions. Empty is allowed.
	ContextID string
	// AccessToken and RefreshToken are issued by the node at login.
	AccessToken  string
	RefreshToken string
	// ExecutorPublicKey identifies the caller inside the context.
	ExecutorPublicKey string

	// Transport selects the event channel implementation.
	Transport websocket.Transport
	// GateEvents skips event channel setup without valid credentials.
	GateEvents bool

	// LogLevel is the minimum level written to stderr.
	LogLevel logger.Level
	// Debug lowers LogLevel to debug.
	Debug bool

	// PushoverToken and PushoverUser enable remote notifications when both
	// are set.
	PushoverToken string
	PushoverUser  string
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	endpoint := getenvFirst("LIVECOUNT_ENDPOINT", "NODE_URL")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	transport, err := websocket.ParseTransport(os.Getenv("LIVECOUNT_TRANSPORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVECOUNT_TRANSPORT: %w", err)
	}

	debug := isTrue(os.Getenv("DEBUG")) || isTrue(os.Getenv("LIVECOUNT_DEBUG"))
	level := logger.LevelWarn
	if raw := os.Getenv("LIVECOUNT_LOG_LEVEL"); raw != "" {
		level, err = logger.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LIVECOUNT_LOG_LEVEL: %w", err)
		}
	} else if debug {
		level = logger.LevelDebug
	}

	return &Config{
		Endpoint:          strings.TrimRight(endpoint, "/"),
		ApplicationID:     getenvFirst("LIVECOUNT_APPLICATION_ID", "APPLICATION_ID"),
		ContextID:         getenvFirst("LIVECOUNT_CONTEXT_ID", "CONTEXT_ID"),
		AccessToken:       getenvFirst("LIVECOUNT_ACCESS_TOKEN", "ACCESS_TOKEN"),
		RefreshToken:      getenvFirst("LIVECOUNT_REFRESH_TOKEN", "REFRESH_TOKEN"),
		ExecutorPublicKey: getenvFirst("LIVECOUNT_EXECUTOR_PUBLIC_KEY", "EXECUTOR_PUBLIC_KEY"),
		Transport:         transport,
		GateEvents:        isTrue(os.Getenv("LIVECOUNT_GATE_EVENTS")),
		LogLevel:          level,
		Debug:             debug,
		PushoverToken:     os.Getenv("LIVECOUNT_PUSHOVER_TOKEN"),
		PushoverUser:      os.Getenv("LIVECOUNT_PUSHOVER_USER"),
	}, nil
}

// Credentials returns the session credentials carried by the config.
func (c *Config) Credentials() session.Credentials {
	return session.Credentials{
		Endpoint:          c.Endpoint,
		ApplicationID:     c.ApplicationID,
		AccessToken:       c.AccessToken,
		RefreshToken:      c.RefreshToken,
		ExecutorPublicKey: c.ExecutorPublicKey,
	}
}

// PushoverEnabled reports whether remote notifications are configured.
func (c *Config) PushoverEnabled() bool {
	return c.PushoverToken != "" && c.PushoverUser != ""
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}
