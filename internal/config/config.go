// Package config holds runtime settings for the classroom server.
// Precedence is defaults, then an optional .env file, then CLASSROOM_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	Journal   JournalConfig
	Classroom ClassroomConfig
	JWTSecret string
	LogLevel  string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	MessagesPerMin   int
}

type JournalConfig struct {
	Path string
}

type ClassroomConfig struct {
	DefaultTurnDuration time.Duration
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			BufferSize:       100,
			MessagesPerMin:   100,
		},
		Journal: JournalConfig{
			Path: "./classroom.db",
		},
		Classroom: ClassroomConfig{
			DefaultTurnDuration: 60 * time.Second,
		},
		JWTSecret: "",
		LogLevel:  "info",
	}
}

// Load builds the configuration. envFile may be empty; a missing file is
// not an error so containerized deployments can rely on real env vars.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := Default()

	envString("CLASSROOM_HTTP_HOST", &cfg.HTTP.Host)
	envInt("CLASSROOM_HTTP_PORT", &cfg.HTTP.Port)
	envDuration("CLASSROOM_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	envDuration("CLASSROOM_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	envDuration("CLASSROOM_WS_HANDSHAKE_TIMEOUT", &cfg.WebSocket.HandshakeTimeout)
	envDuration("CLASSROOM_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	envDuration("CLASSROOM_WS_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout)
	envDuration("CLASSROOM_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	envInt("CLASSROOM_WS_BUFFER_SIZE", &cfg.WebSocket.BufferSize)
	envInt("CLASSROOM_WS_MESSAGES_PER_MIN", &cfg.WebSocket.MessagesPerMin)

	envString("CLASSROOM_JOURNAL_PATH", &cfg.Journal.Path)
	envDuration("CLASSROOM_TURN_DURATION", &cfg.Classroom.DefaultTurnDuration)
	envString("CLASSROOM_JWT_SECRET", &cfg.JWTSecret)
	envString("CLASSROOM_LOG_LEVEL", &cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty")
	}
	if c.Classroom.DefaultTurnDuration <= 0 {
		return fmt.Errorf("default turn duration must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("CLASSROOM_JWT_SECRET is required")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
