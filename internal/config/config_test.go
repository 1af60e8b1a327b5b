package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"WEBHOOK_HOST", "WEBHOOK_PORT", "WEBHOOK_DB_PATH", "WEBHOOK_REQUESTS_PER_MINUTE",
	"WEBHOOK_MAX_BODY_BYTES", "WEBHOOK_REDIS_ADDR", "WEBHOOK_REDIS_PASSWORD", "WEBHOOK_REDIS_DB",
	"WEBHOOK_PROXY_ADDR", "WEBHOOK_PROXY_TENANT", "WEBHOOK_REPLAY_ENABLED", "WEBHOOK_REPLAY_RPS",
	"WEBHOOK_SHUTDOWN_GRACE_PERIOD",
}

// clearEnv unsets every variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestNewConfig_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr())
	require.Equal(t, "echohook.db", cfg.DBPath)
	require.Equal(t, 60, cfg.RequestsPerMinute)
	require.EqualValues(t, 10<<20, cfg.MaxBodyBytes)
	require.Empty(t, cfg.RedisAddr)
	require.False(t, cfg.ReplayEnabled)
	require.Equal(t, 5.0, cfg.ReplayRPS)
	require.Equal(t, 30*time.Second, cfg.ShutdownGracePeriod)
}

func TestNewConfig_fromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_HOST", "127.0.0.1")
	t.Setenv("WEBHOOK_PORT", "9090")
	t.Setenv("WEBHOOK_REQUESTS_PER_MINUTE", "0")
	t.Setenv("WEBHOOK_REDIS_ADDR", "localhost:6379")
	t.Setenv("WEBHOOK_REDIS_DB", "2")
	t.Setenv("WEBHOOK_PROXY_ADDR", ":8888")
	t.Setenv("WEBHOOK_PROXY_TENANT", " 7D0C6A4E-1B8F-4C0E-9A57-3F1D2E4B5C6A ")
	t.Setenv("WEBHOOK_REPLAY_ENABLED", "true")
	t.Setenv("WEBHOOK_SHUTDOWN_GRACE_PERIOD", "5s")

	cfg, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.ListenAddr())
	require.Zero(t, cfg.RequestsPerMinute)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 2, cfg.RedisDB)
	require.Equal(t, "7d0c6a4e-1b8f-4c0e-9a57-3f1d2e4b5c6a", cfg.ProxyTenant)
	require.True(t, cfg.ReplayEnabled)
	require.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
}

func TestNewConfig_envFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WEBHOOK_PORT=7070\nWEBHOOK_DB_PATH=/tmp/file.db\n"), 0o600))
	t.Setenv("WEBHOOK_DB_PATH", "/tmp/env.db")

	cfg, err := NewConfig(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.Equal(t, "/tmp/env.db", cfg.DBPath)
}

func TestNewConfig_invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port not a number":  {"WEBHOOK_PORT": "eighty"},
		"port out of range":  {"WEBHOOK_PORT": "70000"},
		"bad bool":           {"WEBHOOK_REPLAY_ENABLED": "sometimes"},
		"bad duration":       {"WEBHOOK_SHUTDOWN_GRACE_PERIOD": "soon"},
		"proxy no tenant":    {"WEBHOOK_PROXY_ADDR": ":8888"},
		"proxy bad tenant":   {"WEBHOOK_PROXY_ADDR": ":8888", "WEBHOOK_PROXY_TENANT": "acme"},
		"negative replay rs": {"WEBHOOK_REPLAY_RPS": "-1"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			require.Error(t, err)
		})
	}
}
