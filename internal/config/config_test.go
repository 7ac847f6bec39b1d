package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_SECRET", "secret")

	cfg, err := Load(false)
	require.NoError(t, err)

	require.Equal(t, "jammy.db", cfg.DBFile)
	require.Equal(t, ModeRoom, cfg.Mode)
	require.Equal(t, 300, cfg.MaxMessageLength)
	require.Equal(t, 168*time.Hour, cfg.TokenExpiry)
	require.Equal(t, 25*time.Second, cfg.PingInterval)
	require.Equal(t, 60*time.Second, cfg.PongTimeout)
	require.Equal(t, int64(10<<20), cfg.MaxUploadSize)
	require.Equal(t, []string{"general"}, cfg.DefaultRooms)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.False(t, cfg.RequireAuth)
}

func TestLoad_GlobalMode(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("CHAT_MODE", "GLOBAL")
	t.Setenv("ADMIN_USERS", " root , ops,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REQUIRE_AUTH", "true")

	cfg, err := Load(false)
	require.NoError(t, err)
	require.Equal(t, ModeGlobal, cfg.Mode)
	require.Equal(t, 1000, cfg.MaxMessageLength)
	require.Equal(t, []string{"root", "ops"}, cfg.AdminUsers)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.True(t, cfg.RequireAuth)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"AUTH_SECRET": ""}},
		{"bad mode", map[string]string{"CHAT_MODE": "lobby"}},
		{"bad duration", map[string]string{"PING_INTERVAL": "soon"}},
		{"timeout below interval", map[string]string{"PING_INTERVAL": "30s", "PONG_TIMEOUT": "10s"}},
		{"bad bool", map[string]string{"REQUIRE_AUTH": "maybe"}},
		{"no workers", map[string]string{"PERSIST_WORKERS": "0"}},
		{"negative length", map[string]string{"MAX_MESSAGE_LENGTH": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("AUTH_SECRET", "secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(false)
			require.Error(t, err)
		})
	}
}

func TestLoad_CLIModeWithoutSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_SECRET", "")

	_, err := Load(true)
	require.NoError(t, err)
}

func TestAllowsOrigin(t *testing.T) {
	cfg := &Config{}
	cfg.setOrigins([]string{"http://localhost:3000", "HTTPS://Chat.Example.com", "not an origin"})

	require.True(t, cfg.AllowsOrigin(""))
	require.True(t, cfg.AllowsOrigin("http://localhost:3000"))
	require.True(t, cfg.AllowsOrigin("https://chat.example.com"))
	require.False(t, cfg.AllowsOrigin("http://localhost:4000"))
	require.False(t, cfg.AllowsOrigin("https://evil.example.com"))

	cfg.setOrigins([]string{"*"})
	require.True(t, cfg.AllowsOrigin("https://anything.example"))
}
