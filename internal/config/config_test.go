package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TASKSYNC_CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, 10, cfg.Sync.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Sync.ConflictWindow)
	require.Equal(t, int64(1<<20), cfg.Sync.MaxMessageSize)
	require.Equal(t, "127.0.0.1:7070", cfg.ControlAddr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync.yaml")
	data := []byte(`
sync:
  server_url: wss://collab.example/sync
  actor_id: alice
  team_id: team-1
  heartbeat_interval: 15s
  reconnect_attempts: 8
  reconnect_multiplier: 2
db:
  dsn: memory://
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("TASKSYNC_CONFIG_PATH", path)
	t.Setenv("TASKSYNC_ACTOR_ID", "bob")
	t.Setenv("TASKSYNC_CONTROL_PORT", "9090")
	t.Setenv("TASKSYNC_FLUSH_INTERVAL", "1m")
	t.Setenv("TASKSYNC_MAX_MESSAGE_SIZE", "4194304")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://collab.example/sync", cfg.Sync.ServerURL)
	require.Equal(t, "bob", cfg.Sync.ActorID)
	require.Equal(t, "team-1", cfg.Sync.TeamID)
	require.Equal(t, 15*time.Second, cfg.Sync.HeartbeatInterval)
	require.Equal(t, 8, cfg.Sync.ReconnectAttempts)
	require.Equal(t, 2.0, cfg.Sync.ReconnectMultiplier)
	require.Equal(t, time.Minute, cfg.Sync.FlushInterval)
	require.Equal(t, int64(4<<20), cfg.Sync.MaxMessageSize)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "memory://", cfg.DB.DSN)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 10, cfg.Sync.BatchSize, "unset keys keep defaults")
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TASKSYNC_CONFIG_PATH", "")
	t.Setenv("TASKSYNC_BATCH_SIZE", "ten")

	_, err := Load()
	require.ErrorContains(t, err, "TASKSYNC_BATCH_SIZE")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("TASKSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sync.ServerURL = ""
	cfg.Sync.BatchSize = 0
	cfg.Sync.ReconnectMultiplier = 0.5
	cfg.Sync.MaxMessageSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "sync.server_url")
	require.ErrorContains(t, err, "sync.batch_size")
	require.ErrorContains(t, err, "sync.reconnect_multiplier")
	require.ErrorContains(t, err, "sync.max_message_size")
	require.NoError(t, Default().Validate())
}
