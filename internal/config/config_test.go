package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("CLASSROOM_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Classroom.DefaultTurnDuration)
	assert.Equal(t, "./classroom.db", cfg.Journal.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CLASSROOM_JWT_SECRET", "s3cret")
	t.Setenv("CLASSROOM_HTTP_PORT", "9001")
	t.Setenv("CLASSROOM_WS_PING_INTERVAL", "5s")
	t.Setenv("CLASSROOM_WS_READ_TIMEOUT", "15s")
	t.Setenv("CLASSROOM_TURN_DURATION", "90s")
	t.Setenv("CLASSROOM_JOURNAL_PATH", "/tmp/events.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, 90*time.Second, cfg.Classroom.DefaultTurnDuration)
	assert.Equal(t, "/tmp/events.db", cfg.Journal.Path)
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("CLASSROOM_JWT_SECRET", "placeholder")
	os.Unsetenv("CLASSROOM_JWT_SECRET")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CLASSROOM_JWT_SECRET=from-file\nCLASSROOM_HTTP_PORT=7070\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 7070, cfg.HTTP.Port)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("CLASSROOM_JWT_SECRET", "s3cret")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.JWTSecret = "x"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"read timeout under ping interval", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"empty journal path", func(c *Config) { c.Journal.Path = "" }},
		{"zero turn duration", func(c *Config) { c.Classroom.DefaultTurnDuration = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
