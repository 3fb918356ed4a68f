package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageType controls where the session buffer is persisted.
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageSQLite StorageType = "sqlite"
	StorageRedis  StorageType = "redis"
	StorageOff    StorageType = "off"
)

// Config contains all runtime configuration for reqscope.
type Config struct {
	// Core
	ListenAddr   string
	InspectorURL string
	FeedURL      string
	LogLevel     string
	DefaultRange string

	// Buffer + persistence
	MaxEvents     int
	Storage       StorageType
	StoragePath   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionID     string
	SessionTTL    time.Duration
	SaveInterval  time.Duration

	// Feed
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
	PongWait             time.Duration

	// Inspector status polling
	StatusInterval time.Duration
	StatusTimeout  time.Duration

	// Notifications
	NotificationsMax int

	// HTTP
	CORSAllowOrigin string
	AnalyticsTTL    time.Duration
}

// Load parses env vars and returns a validated Config.
func Load() (Config, error) {
	inspector := getEnvString("INSPECTOR_URL", "http://localhost:4040")

	cfg := Config{
		ListenAddr:   getEnvString("LISTEN_ADDR", ":4141"),
		InspectorURL: inspector,
		FeedURL:      getEnvString("FEED_URL", ""),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
		DefaultRange: getEnvString("DEFAULT_RANGE", "1h"),

		MaxEvents:     getEnvInt("MAX_EVENTS", 10000),
		Storage:       StorageType(getEnvString("STORAGE", string(StorageMemory))),
		StoragePath:   getEnvString("STORAGE_PATH", "reqscope.sqlite"),
		RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SessionID:     getEnvString("SESSION_ID", "default"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SaveInterval:  getEnvDuration("SAVE_INTERVAL", time.Second),

		ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		PongWait:             getEnvDuration("PONG_WAIT", 60*time.Second),

		StatusInterval: getEnvDuration("STATUS_INTERVAL", 5*time.Second),
		StatusTimeout:  getEnvDuration("STATUS_TIMEOUT", 3*time.Second),

		NotificationsMax: getEnvInt("NOTIFICATIONS_MAX", 200),

		CORSAllowOrigin: getEnvString("CORS_ALLOW_ORIGIN", "*"),
		AnalyticsTTL:    getEnvDuration("ANALYTICS_TTL", 2*time.Second),
	}

	if cfg.FeedURL == "" {
		feed, err := DeriveFeedURL(inspector)
		if err != nil {
			return Config{}, err
		}
		cfg.FeedURL = feed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DeriveFeedURL turns the inspector base URL into its WebSocket feed URL.
func DeriveFeedURL(inspector string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(inspector))
	if err != nil {
		return "", fmt.Errorf("invalid INSPECTOR_URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid INSPECTOR_URL: %q (scheme must be http or https)", inspector)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid INSPECTOR_URL: %q (missing host)", inspector)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageRedis, StorageOff:
		// ok
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be memory|sqlite|redis|off)", c.Storage)
	}

	if c.Storage == StorageSQLite && c.StoragePath == "" {
		return fmt.Errorf("STORAGE_PATH must be set when STORAGE=sqlite")
	}
	if c.Storage == StorageRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must be set when STORAGE=redis")
	}
	if c.SessionID == "" {
		return fmt.Errorf("SESSION_ID must not be empty")
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("MAX_EVENTS must be >= 1")
	}
	if c.SaveInterval <= 0 {
		return fmt.Errorf("SAVE_INTERVAL must be > 0")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must be >= 0")
	}

	if c.ReconnectDelay < 0 {
		return fmt.Errorf("RECONNECT_DELAY must be >= 0")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if c.PongWait <= 0 {
		return fmt.Errorf("PONG_WAIT must be > 0")
	}

	if c.StatusInterval <= 0 {
		return fmt.Errorf("STATUS_INTERVAL must be > 0")
	}
	if c.StatusTimeout <= 0 {
		return fmt.Errorf("STATUS_TIMEOUT must be > 0")
	}

	if c.NotificationsMax < 1 {
		return fmt.Errorf("NOTIFICATIONS_MAX must be >= 1")
	}
	if c.AnalyticsTTL < 0 {
		return fmt.Errorf("ANALYTICS_TTL must be >= 0")
	}

	return nil
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
