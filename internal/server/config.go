// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat hub service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/chathub/internal/hub"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	RateLimit         RateLimitConfig
	SendBufferSize    int
	TypingTimeout     time.Duration
	MaxUsernameLength int
	DefaultRoom       string
	DatabasePath      string
	ShutdownTimeout   time.Duration
	LogLevel          string
	LogFormat         string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		SendBufferSize:    256,
		TypingTimeout:     2000 * time.Millisecond,
		MaxUsernameLength: 20,
		DefaultRoom:       "general",
		ShutdownTimeout:   30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Sanitize replaces unset or invalid values with defaults.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = def.TypingTimeout
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = def.MaxUsernameLength
	}
	if strings.TrimSpace(c.DefaultRoom) == "" {
		c.DefaultRoom = def.DefaultRoom
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// HubConfig derives the engine settings.
func (c Config) HubConfig() hub.Config {
	return hub.Config{
		TypingTimeout:     c.TypingTimeout,
		MaxUsernameLength: c.MaxUsernameLength,
		DefaultRoomID:     c.DefaultRoom,
		DefaultRoomName:   c.DefaultRoom,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}
	if ms := os.Getenv("TYPING_TIMEOUT_MS"); ms != "" {
		cfg.TypingTimeout = time.Duration(parseIntValue(ms, int(cfg.TypingTimeout/time.Millisecond))) * time.Millisecond
	}
	if n := os.Getenv("MAX_USERNAME_LENGTH"); n != "" {
		cfg.MaxUsernameLength = parseIntValue(n, cfg.MaxUsernameLength)
	}
	if room := strings.TrimSpace(os.Getenv("DEFAULT_ROOM")); room != "" {
		cfg.DefaultRoom = room
	}
	cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
