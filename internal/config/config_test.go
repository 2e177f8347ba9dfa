package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CHATWIRE_HOME_DIR", "")
	t.Setenv("CHATWIRE_SERVER_URL", "")
	t.Setenv("CHATWIRE_HEARTBEAT", "")
	t.Setenv("CHATWIRE_LOG_LEVEL", "")
	t.Setenv("DEBUG", "")
	t.Setenv("CHATWIRE_DEBUG", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://chat.chatwire.dev/ws", cfg.ServerURL)
	require.Equal(t, filepath.Join(home, ".chatwire"), cfg.ChatwireHome)
	require.Equal(t, filepath.Join(home, ".chatwire", "access.key"), cfg.AccessKey)
	require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	require.False(t, cfg.Debug)
	require.Equal(t, "info", cfg.LogLevel)
	require.DirExists(t, cfg.ChatwireHome)
}

func TestLoadFromEnvironment(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CHATWIRE_HOME_DIR", home)
	t.Setenv("CHATWIRE_SERVER_URL", "wss://localhost:3005/ws")
	t.Setenv("CHATWIRE_USERNAME", "alice")
	t.Setenv("CHATWIRE_TEAM", "platform")
	t.Setenv("CHATWIRE_CHANNEL", "general")
	t.Setenv("CHATWIRE_HEARTBEAT", "10s")
	t.Setenv("DEBUG", "1")
	t.Setenv("CHATWIRE_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://localhost:3005/ws", cfg.ServerURL)
	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, "platform", cfg.Team)
	require.Equal(t, "general", cfg.Channel)
	require.Equal(t, home, cfg.ChatwireHome)
	require.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	require.True(t, cfg.Debug)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidHeartbeat(t *testing.T) {
	t.Setenv("CHATWIRE_HOME_DIR", t.TempDir())

	t.Setenv("CHATWIRE_HEARTBEAT", "often")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("CHATWIRE_HEARTBEAT", "-5s")
	_, err = Load()
	require.Error(t, err)
}
