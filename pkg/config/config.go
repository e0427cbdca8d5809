package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration, sourced from the environment. A
// deployment profile (see profile_loader.go) may overlay some of it.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisAddr   string

	// Profile names the deployment profile to overlay, if any.
	Profile     string
	ProfilesDir string

	SCIM SCIMConfig
}

// SCIMConfig carries the outbound provisioning settings (env SCIM_*).
type SCIMConfig struct {
	Enabled        bool
	PollInterval   time.Duration
	TokenLifetime  time.Duration
	Processor      string
	HTTPTimeout    time.Duration
	BatchSize      int
	MaxConcurrency int
	StaleAfter     time.Duration

	// IssuerURL is stamped into minted destination tokens.
	IssuerURL string
	// CredentialKey is the master secret for the static credential store.
	// Static bearer destinations are unavailable while it is empty.
	CredentialKey string
}

// ProcessorScheduled is the polling delivery processor; the only kind
// currently shipped.
const ProcessorScheduled = "scheduled"

// Load loads configuration from environment variables. Malformed numeric
// and duration values are logged and fall back to their defaults so a bad
// env var cannot keep the server from booting.
func Load() *Config {
	return &Config{
		Port:        envString("PORT", "8080"),
		LogLevel:    envString("LOG_LEVEL", "INFO"),
		DatabaseURL: envString("DATABASE_URL", ""),
		RedisAddr:   envString("REDIS_ADDR", ""),
		Profile:     envString("SCIM_PROFILE", ""),
		ProfilesDir: envString("SCIM_PROFILES_DIR", "profiles"),
		SCIM: SCIMConfig{
			Enabled:        envBool("SCIM_ENABLED", true),
			PollInterval:   envDuration("SCIM_POLL_INTERVAL", 5*time.Second),
			TokenLifetime:  envDuration("SCIM_TOKEN_LIFETIME", time.Hour),
			Processor:      envString("SCIM_PROCESSOR", ProcessorScheduled),
			HTTPTimeout:    envDuration("SCIM_HTTP_TIMEOUT", 30*time.Second),
			BatchSize:      envInt("SCIM_BATCH_SIZE", 50),
			MaxConcurrency: envInt("SCIM_MAX_CONCURRENCY", 8),
			StaleAfter:     envDuration("SCIM_STALE_AFTER", 5*time.Minute),
			IssuerURL:      envString("SCIM_ISSUER_URL", ""),
			CredentialKey:  envString("SCIM_CREDENTIAL_KEY", ""),
		},
	}
}

// DatabaseDriver reports which store backend DatabaseURL selects:
// "postgres", "sqlite", or "memory" when unset.
func (c *Config) DatabaseDriver() string {
	switch {
	case c.DatabaseURL == "":
		return "memory"
	case strings.HasPrefix(c.DatabaseURL, "postgres://"),
		strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"),
		strings.HasPrefix(c.DatabaseURL, "file:"),
		strings.HasSuffix(c.DatabaseURL, ".db"):
		return "sqlite"
	default:
		return "postgres"
	}
}

// SQLiteDSN strips the sqlite:// scheme so the URL can be handed to the
// driver as a plain path or file: DSN.
func (c *Config) SQLiteDSN() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

// SlogLevel maps the configured log level onto slog's scale. Unknown
// values fall back to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed boolean env var", "key", key, "value", v)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring malformed integer env var", "key", key, "value", v)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring malformed duration env var", "key", key, "value", v)
		return def
	}
	return d
}
