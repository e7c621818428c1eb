package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default token and timer durations used when the config file omits them.
const (
	// DefaultSessionTTL is the admin session token lifetime.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultChallengeTTL is the pending-login challenge token lifetime.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultStampTTL is the two-factor stamp lifetime. Non-sliding.
	DefaultStampTTL = time.Hour
	// DefaultHeartbeatInterval is the presence heartbeat period.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultIdleThreshold is the inactivity window before forced logout.
	DefaultIdleThreshold = 30 * time.Minute
	// DefaultIdlePollInterval is how often the idle watcher checks activity.
	DefaultIdlePollInterval = time.Minute
	// DefaultGeoLookupTimeout bounds the best-effort IP geolocation call.
	DefaultGeoLookupTimeout = 3 * time.Second
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr       string `yaml:"addr"`        // Listen address, e.g. ":8317".
	BasePath   string `yaml:"base-path"`   // Path prefix the admin UI is served under.
	Production bool   `yaml:"production"`  // Enables secure cookies.
	TrustProxy bool   `yaml:"trust-proxy"` // Honor X-Forwarded-For for client IPs.
}

// DatabaseConfig holds the persistence DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL or SQLite DSN.
}

// RedisConfig holds presence broadcast settings.
type RedisConfig struct {
	URL       string `yaml:"url"`       // redis:// or rediss:// URL.
	Namespace string `yaml:"namespace"` // Key prefix for presence state.
}

// AuthConfig holds token secrets and lifetimes.
type AuthConfig struct {
	SessionSecret string        `yaml:"session-secret"` // HMAC key for all issued tokens.
	SessionTTL    time.Duration `yaml:"session-ttl"`
	ChallengeTTL  time.Duration `yaml:"challenge-ttl"`
	StampTTL      time.Duration `yaml:"stamp-ttl"`
	CookieDomain  string        `yaml:"cookie-domain"`
}

// PresenceConfig holds presence manager tunables.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval"`
	GeoLookupTimeout  time.Duration `yaml:"geo-lookup-timeout"`
	GeoLookupURL      string        `yaml:"geo-lookup-url"`
}

// IdleConfig holds idle watchdog tunables.
type IdleConfig struct {
	Threshold    time.Duration `yaml:"threshold"`
	PollInterval time.Duration `yaml:"poll-interval"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Level      string `yaml:"level"`       // logrus level name.
	File       string `yaml:"file"`        // Rotating log file; empty logs to stderr only.
	MaxSizeMB  int    `yaml:"max-size-mb"` // Rotation size threshold.
	MaxBackups int    `yaml:"max-backups"` // Rotated files to retain.
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Idle     IdleConfig     `yaml:"idle"`
	Log      LogConfig      `yaml:"log"`
}

// ResolveConfigPath returns the effective config file path, preferring the
// explicit argument, then CONFIG_PATH, then ./config.yaml.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv("CONFIG_PATH")); env != "" {
		return filepath.Clean(env)
	}
	return "config.yaml"
}

// Load reads and validates the configuration file. Secrets may be supplied
// through the environment instead of the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if errDecode := yaml.Unmarshal(raw, cfg); errDecode != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errDecode)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.Auth.SessionSecret) == "" {
		return nil, fmt.Errorf("config: auth.session-secret is required")
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments inject secrets without
// writing them to disk.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_SESSION_SECRET")); v != "" {
		cfg.Auth.SessionSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8317"
	}
	if strings.TrimSpace(cfg.Server.BasePath) == "" {
		cfg.Server.BasePath = "/admin"
	}
	if strings.TrimSpace(cfg.Redis.Namespace) == "" {
		cfg.Redis.Namespace = "backoffice"
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = DefaultSessionTTL
	}
	if cfg.Auth.ChallengeTTL <= 0 {
		cfg.Auth.ChallengeTTL = DefaultChallengeTTL
	}
	if cfg.Auth.StampTTL <= 0 {
		cfg.Auth.StampTTL = DefaultStampTTL
	}
	if cfg.Presence.HeartbeatInterval <= 0 {
		cfg.Presence.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Presence.GeoLookupTimeout <= 0 {
		cfg.Presence.GeoLookupTimeout = DefaultGeoLookupTimeout
	}
	if cfg.Idle.Threshold <= 0 {
		cfg.Idle.Threshold = DefaultIdleThreshold
	}
	if cfg.Idle.PollInterval <= 0 {
		cfg.Idle.PollInterval = DefaultIdlePollInterval
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
}
