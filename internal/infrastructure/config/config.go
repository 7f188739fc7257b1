package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Logging       LogConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	Session       SessionConfig
	Apps          AppConfig
	Subscriptions SubscriptionConfig
	Display       DisplayConfig
	Webhook       WebhookConfig
	Catalog       CatalogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8002"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// PublicURL is the externally reachable base URL apps use to open
	// their websocket back to this cloud, e.g. "ws://localhost:8002".
	PublicURL string `envconfig:"PUBLIC_URL" default:"ws://localhost:8002"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// AuthConfig holds device token verification configuration.
type AuthConfig struct {
	// JWTSecret verifies HMAC-signed device tokens. Empty means token
	// verification falls back to the insecure development verifier.
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" default:""`
}

// SessionConfig holds per-user session lifecycle configuration.
type SessionConfig struct {
	// GracePeriod is how long a session survives after its device
	// disconnects before it is disposed.
	GracePeriod       time.Duration `envconfig:"SESSION_GRACE_PERIOD" default:"60s"`
	HeartbeatInterval time.Duration `envconfig:"SESSION_HEARTBEAT_INTERVAL" default:"10s"`
	// HeartbeatMisses is how many unanswered pings force-close the
	// device connection. Timeout is interval * misses.
	HeartbeatMisses int `envconfig:"SESSION_HEARTBEAT_MISSES" default:"3"`
}

// AppConfig holds app lifecycle configuration.
type AppConfig struct {
	ConnectTimeout time.Duration `envconfig:"APP_CONNECT_TIMEOUT" default:"5s"`
	// GracePeriod is how long a disconnected app may reconnect on its
	// own before the cloud resurrects or parks it.
	GracePeriod time.Duration `envconfig:"APP_GRACE_PERIOD" default:"5s"`
}

// SubscriptionConfig holds data stream subscription configuration.
type SubscriptionConfig struct {
	DefaultLocale string `envconfig:"SUBSCRIPTION_DEFAULT_LOCALE" default:"en-US"`
	// HistoryLimit bounds the per-app subscription change journal.
	HistoryLimit int `envconfig:"SUBSCRIPTION_HISTORY_LIMIT" default:"32"`
	// ResubscribeWindow is how long after an app reconnect a
	// subscription update equal to the active set is ignored. SDKs
	// resubscribe unconditionally on reconnect.
	ResubscribeWindow time.Duration `envconfig:"SUBSCRIPTION_RESUBSCRIBE_WINDOW" default:"10s"`
}

// DisplayConfig holds display arbitration configuration.
type DisplayConfig struct {
	ThrottleInterval time.Duration `envconfig:"DISPLAY_THROTTLE_INTERVAL" default:"300ms"`
	// LockDuration is the nominal lifetime of the background display
	// lock; LockInactiveTimeout releases it early when the holder has
	// gone quiet.
	LockDuration        time.Duration `envconfig:"DISPLAY_LOCK_DURATION" default:"30s"`
	LockInactiveTimeout time.Duration `envconfig:"DISPLAY_LOCK_INACTIVE_TIMEOUT" default:"10s"`
	// UntimedLifetime is how long a display with no explicit duration
	// stays restorable before it is treated as single-shot.
	UntimedLifetime time.Duration `envconfig:"DISPLAY_UNTIMED_LIFETIME" default:"3s"`
}

// WebhookConfig holds app webhook delivery configuration.
type WebhookConfig struct {
	Timeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"2500ms"`
	Retries int           `envconfig:"WEBHOOK_RETRIES" default:"2"`
	Backoff time.Duration `envconfig:"WEBHOOK_BACKOFF" default:"250ms"`
}

// CatalogConfig holds app catalog configuration.
type CatalogConfig struct {
	// Dir is scanned at boot for app manifests (.json, .yaml, .yml).
	Dir string `envconfig:"CATALOG_DIR" default:"./apps"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8002",
			Host:      "0.0.0.0",
			PublicURL: "ws://localhost:8002",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		Session: SessionConfig{
			GracePeriod:       60 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			HeartbeatMisses:   3,
		},
		Apps: AppConfig{
			ConnectTimeout: 5 * time.Second,
			GracePeriod:    5 * time.Second,
		},
		Subscriptions: SubscriptionConfig{
			DefaultLocale:     "en-US",
			HistoryLimit:      32,
			ResubscribeWindow: 10 * time.Second,
		},
		Display: DisplayConfig{
			ThrottleInterval:    300 * time.Millisecond,
			LockDuration:        30 * time.Second,
			LockInactiveTimeout: 10 * time.Second,
			UntimedLifetime:     3 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 2500 * time.Millisecond,
			Retries: 2,
			Backoff: 250 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			Dir: "./apps",
		},
	}
}
