// Package config provides server configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds all server configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv          string        // Application environment (dev, staging, prod)
	HTTPAddr        string        // OFREP server bind address (e.g., ":8080")
	APIHost         string        // GrowthBook API host serving remote evaluation
	ClientKey       string        // GrowthBook SDK client key
	DecryptionKey   string        // Base64 key for encrypted payloads (optional)
	CacheTTL        int           // Seconds to reuse evaluated payloads; negative disables caching
	HTTPTimeout     time.Duration // Timeout for one remote evaluation request
	InitTimeout     time.Duration // Timeout for the provider readiness probe
	CacheBackend    string        // Payload cache backend (memory, redis, none)
	CacheMaxEntries int           // Bound on in-memory cache entries
	RedisURL        string        // Redis connection URL for the redis backend
	FixturesFile    string        // YAML fixtures file; switches to the offline file engine
	OFREPAPIKey     string        // Bearer key required by the OFREP endpoints (optional in dev)
	RateLimitPerIP  int           // OFREP requests per minute per client IP; 0 disables
	LogLevel        string        // zerolog level
	LogFormat       string        // json or console

	WebhookURLs       []string      // Endpoints notified of flag changes (comma separated in env)
	WebhookSecret     string        // HMAC key for webhook signatures
	WebhookMaxRetries int           // Retries after a failed delivery
	WebhookTimeout    time.Duration // Timeout for one delivery attempt
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
//
// Load does NOT validate cross-field constraints. Use Validate() for that.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	_ = v.ReadInConfig()    // Ignore error - .env is optional
	v.AutomaticEnv()

	setConfigDefaults(v)

	return &Config{
		AppEnv:          v.GetString("APP_ENV"),
		HTTPAddr:        v.GetString("APP_HTTP_ADDR"),
		APIHost:         v.GetString("GROWTHBOOK_API_HOST"),
		ClientKey:       v.GetString("GROWTHBOOK_CLIENT_KEY"),
		DecryptionKey:   v.GetString("GROWTHBOOK_DECRYPTION_KEY"),
		CacheTTL:        v.GetInt("GROWTHBOOK_CACHE_TTL"),
		HTTPTimeout:     v.GetDuration("GROWTHBOOK_HTTP_TIMEOUT"),
		InitTimeout:     v.GetDuration("GROWTHBOOK_INIT_TIMEOUT"),
		CacheBackend:    v.GetString("CACHE_BACKEND"),
		CacheMaxEntries: v.GetInt("CACHE_MAX_ENTRIES"),
		RedisURL:        v.GetString("REDIS_URL"),
		FixturesFile:    v.GetString("FIXTURES_FILE"),
		OFREPAPIKey:     v.GetString("OFREP_API_KEY"),
		RateLimitPerIP:  v.GetInt("RATE_LIMIT_PER_IP"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),

		WebhookURLs:       splitList(v.GetString("WEBHOOK_URLS")),
		WebhookSecret:     v.GetString("WEBHOOK_SECRET"),
		WebhookMaxRetries: v.GetInt("WEBHOOK_MAX_RETRIES"),
		WebhookTimeout:    v.GetDuration("WEBHOOK_TIMEOUT"),
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
// These defaults are suitable for local development.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":8080")
	v.SetDefault("GROWTHBOOK_API_HOST", "https://cdn.growthbook.io")
	v.SetDefault("GROWTHBOOK_CLIENT_KEY", "")
	v.SetDefault("GROWTHBOOK_DECRYPTION_KEY", "")
	v.SetDefault("GROWTHBOOK_CACHE_TTL", 60)
	v.SetDefault("GROWTHBOOK_HTTP_TIMEOUT", "10s")
	v.SetDefault("GROWTHBOOK_INIT_TIMEOUT", "15s")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_MAX_ENTRIES", 10000)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("FIXTURES_FILE", "")
	v.SetDefault("OFREP_API_KEY", "")
	v.SetDefault("RATE_LIMIT_PER_IP", 600)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("WEBHOOK_URLS", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
}

// splitList splits a comma separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// CacheTTLDuration converts CacheTTL to a duration. Negative values are kept
// negative so callers can tell "disabled" apart.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Offline reports whether the server answers from a fixtures file instead of
// the remote evaluation endpoint.
func (c *Config) Offline() bool {
	return c.FixturesFile != ""
}

// Validate checks that the configuration is usable.
//
// Validation Rules:
//  1. HTTPAddr must be non-empty
//  2. Without FIXTURES_FILE, ClientKey is required and APIHost must be an absolute URL
//  3. CacheBackend must be one of: "memory", "redis", "none"; redis requires RedisURL
//  4. HTTPTimeout and InitTimeout must be positive
//  5. RateLimitPerIP must not be negative
//  6. LogLevel must be a zerolog level, LogFormat json or console
//  7. WebhookURLs must be absolute http(s) URLs; retries not negative
//
// In production (AppEnv "prod" or "production") OFREP_API_KEY must be set.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return ValidationError{Field: "APP_HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}

	if !c.Offline() {
		if c.ClientKey == "" {
			return ValidationError{
				Field:   "GROWTHBOOK_CLIENT_KEY",
				Message: "client key is required unless FIXTURES_FILE is set",
			}
		}
		u, err := url.Parse(c.APIHost)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ValidationError{
				Field:   "GROWTHBOOK_API_HOST",
				Message: fmt.Sprintf("must be an absolute URL, got '%s'", c.APIHost),
			}
		}
	}

	switch c.CacheBackend {
	case "memory", "none":
	case "redis":
		if c.RedisURL == "" {
			return ValidationError{Field: "REDIS_URL", Message: "redis URL is required when CACHE_BACKEND=redis"}
		}
	default:
		return ValidationError{
			Field:   "CACHE_BACKEND",
			Message: fmt.Sprintf("must be 'memory', 'redis' or 'none', got '%s'", c.CacheBackend),
		}
	}

	if c.HTTPTimeout <= 0 {
		return ValidationError{Field: "GROWTHBOOK_HTTP_TIMEOUT", Message: "must be positive"}
	}
	if c.InitTimeout <= 0 {
		return ValidationError{Field: "GROWTHBOOK_INIT_TIMEOUT", Message: "must be positive"}
	}
	if c.RateLimitPerIP < 0 {
		return ValidationError{Field: "RATE_LIMIT_PER_IP", Message: "cannot be negative"}
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return ValidationError{Field: "LOG_LEVEL", Message: fmt.Sprintf("unknown level '%s'", c.LogLevel)}
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got '%s'", c.LogFormat),
		}
	}

	for _, raw := range c.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ValidationError{
				Field:   "WEBHOOK_URLS",
				Message: fmt.Sprintf("must be absolute http(s) URLs, got '%s'", raw),
			}
		}
	}
	if c.WebhookMaxRetries < 0 {
		return ValidationError{Field: "WEBHOOK_MAX_RETRIES", Message: "cannot be negative"}
	}
	if len(c.WebhookURLs) > 0 && c.WebhookTimeout <= 0 {
		return ValidationError{Field: "WEBHOOK_TIMEOUT", Message: "must be positive"}
	}

	if (c.AppEnv == "prod" || c.AppEnv == "production") && c.OFREPAPIKey == "" {
		return ValidationError{
			Field:   "OFREP_API_KEY",
			Message: "an API key is required in production",
		}
	}

	return nil
}
