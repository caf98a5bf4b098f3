package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "mongo", cfg.LobbyStore)
	assert.Equal(t, 180*time.Minute, cfg.LobbyTTL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.DisconnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 8, cfg.CodeAttempts)
	assert.True(t, cfg.DeleteEmptyLobbies)
	assert.Equal(t, "Europe/Amsterdam", cfg.Timezone)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOBBY_STORE", "memory")
	t.Setenv("LOBBY_TTL", "30m")
	t.Setenv("ALLOWED_ORIGINS", "dice.example.com,*.dice.example.com")
	t.Setenv("DELETE_EMPTY_LOBBIES", "false")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, "memory", cfg.LobbyStore)
	assert.Equal(t, 30*time.Minute, cfg.LobbyTTL)
	assert.Equal(t, []string{"dice.example.com", "*.dice.example.com"}, cfg.AllowedOrigins)
	assert.False(t, cfg.DeleteEmptyLobbies)
}

func TestLoadServerRejectsUnknownStore(t *testing.T) {
	t.Setenv("LOBBY_STORE", "sqlite")
	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadHistorianRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := LoadHistorian()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/diceonline")
	cfg, err := LoadHistorian()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
}

func TestNewLogger(t *testing.T) {
	l := NewLogger(LogConfig{Level: "debug", Env: "production"})
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = NewLogger(LogConfig{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}
