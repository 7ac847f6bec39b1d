package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ChatMode string

const (
	// ModeGlobal runs one chat shared by every connected user.
	ModeGlobal ChatMode = "global"
	// ModeRoom scopes messages, typing and membership announcements to rooms.
	ModeRoom ChatMode = "room"
)

const (
	globalMaxMessageLength = 1000
	roomMaxMessageLength   = 300
)

type Config struct {
	DBFile           string
	AdminAddr        string
	APIAddr          string
	BaseURL          string
	UploadsPath      string
	AuthSecret       string
	TokenExpiry      time.Duration
	Mode             ChatMode
	MaxMessageLength int
	RequireAuth      bool
	AdminUsers       []string
	CORSOrigins      []string
	DefaultRooms     []string
	LogLevel         slog.Level
	PingInterval     time.Duration
	PongTimeout      time.Duration
	MaxUploadSize    int64
	PersistWorkers   int

	origins  map[string]struct{}
	allowAll bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key, fallback string) int {
		n, err := strconv.Atoi(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}

	cfg := &Config{
		DBFile:         getEnv("JAMMY_DB", "jammy.db"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:        getEnv("API_ADDR", ":8080"),
		BaseURL:        strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    duration("TOKEN_EXPIRY", "168h"),
		Mode:           ChatMode(strings.ToLower(getEnv("CHAT_MODE", string(ModeRoom)))),
		AdminUsers:     splitList(os.Getenv("ADMIN_USERS")),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		DefaultRooms:   splitList(getEnv("DEFAULT_ROOMS", "general")),
		PingInterval:   duration("PING_INTERVAL", "25s"),
		PongTimeout:    duration("PONG_TIMEOUT", "60s"),
		MaxUploadSize:  int64(integer("MAX_UPLOAD_SIZE", "10485760")),
		PersistWorkers: integer("PERSIST_WORKERS", "16"),
	}

	if v := os.Getenv("MAX_MESSAGE_LENGTH"); v != "" {
		cfg.MaxMessageLength = integer("MAX_MESSAGE_LENGTH", v)
	}

	requireAuth, err := strconv.ParseBool(getEnv("REQUIRE_AUTH", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("REQUIRE_AUTH: %w", err))
	}
	cfg.RequireAuth = requireAuth

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and fills in mode dependent defaults.
func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	switch c.Mode {
	case ModeGlobal, ModeRoom:
	default:
		return fmt.Errorf("CHAT_MODE must be %q or %q, got %q", ModeGlobal, ModeRoom, c.Mode)
	}

	if c.MaxMessageLength < 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must not be negative")
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = roomMaxMessageLength
		if c.Mode == ModeGlobal {
			c.MaxMessageLength = globalMaxMessageLength
		}
	}

	if c.PingInterval <= 0 || c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("PONG_TIMEOUT (%s) must be greater than PING_INTERVAL (%s)", c.PongTimeout, c.PingInterval)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be greater than 0")
	}

	if c.PersistWorkers <= 0 {
		return fmt.Errorf("PERSIST_WORKERS must be greater than 0")
	}

	c.setOrigins(c.CORSOrigins)

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
