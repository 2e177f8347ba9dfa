package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	defaultServerURL         = "wss://chat.chatwire.dev/ws"
	defaultHeartbeatInterval = 30 * time.Second
)

type Config struct {
	// ServerURL is the websocket endpoint of the chat server.
	ServerURL string
	// Username is the local user's name, echoed in typing and presence
	// envelopes.
	Username string
	// Team is the default team to join on startup.
	Team string
	// Channel is the default channel to join on startup.
	Channel string

	// ChatwireHome is the directory where chatwire stores local state.
	ChatwireHome string
	// AccessKey is the path to the access token file.
	AccessKey string

	// HeartbeatInterval is the keep-alive ping interval.
	HeartbeatInterval time.Duration
	// Debug enables verbose logging.
	Debug bool
	// LogLevel is the log verbosity name ("trace".."error").
	LogLevel string
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	chatwireHome := os.Getenv("CHATWIRE_HOME_DIR")
	if chatwireHome == "" {
		chatwireHome = filepath.Join(homeDir, ".chatwire")
	}
	if err := os.MkdirAll(chatwireHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create chatwire home: %w", err)
	}

	serverURL := os.Getenv("CHATWIRE_SERVER_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	heartbeat := defaultHeartbeatInterval
	if raw := os.Getenv("CHATWIRE_HEARTBEAT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CHATWIRE_HEARTBEAT %q: %w", raw, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("invalid CHATWIRE_HEARTBEAT %q: must be positive", raw)
		}
		heartbeat = parsed
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = os.Getenv("CHATWIRE_DEBUG") == "true" || os.Getenv("CHATWIRE_DEBUG") == "1"
	}

	logLevel := os.Getenv("CHATWIRE_LOG_LEVEL")
	if logLevel == "" {
		if debug {
			logLevel = "debug"
		} else {
			logLevel = "info"
		}
	}

	return &Config{
		ServerURL:         serverURL,
		Username:          os.Getenv("CHATWIRE_USERNAME"),
		Team:              os.Getenv("CHATWIRE_TEAM"),
		Channel:           os.Getenv("CHATWIRE_CHANNEL"),
		ChatwireHome:      chatwireHome,
		AccessKey:         filepath.Join(chatwireHome, "access.key"),
		HeartbeatInterval: heartbeat,
		Debug:             debug,
		LogLevel:          logLevel,
	}, nil
}
