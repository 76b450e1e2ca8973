// Package config loads the federation gateway configuration from environment
// variables with defaults and validates it before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL, LOG_FILE, LOG_FORMAT: Logging (default: info, federation-gateway.log, console)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//
// Key-Value Store:
//   - STORE_BACKEND: "memory" or "redis" (default: memory)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./federation_gateway.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Security Configuration:
//   - JWT_SECRET: Admin API token secret; the admin API is disabled when empty
//   - CONFIG_ENCRYPTION_KEY: Passphrase sealing secrets at rest
//   - FEDERATION_SIGNING_KEYS: Static keys as keyId=secret@org;...
//   - JWT_ISSUER, JWT_EXPIRY: Admin token issuer and lifetime (default: federation-gateway, 1h)
//   - TRUSTED_PROXIES: Comma-separated CIDRs or addresses allowed to set X-Forwarded-For and X-Real-IP
//
// Federation Protocol:
//   - CLOCK_SKEW_TOLERANCE (300s), MAX_BODY_BYTES (1048576), IDEMPOTENCY_TTL (24h)
//   - RATE_LIMIT_ENABLED (true), RATE_LIMIT_DEFAULT (100), RATE_LIMIT_WINDOW (60s)
//   - REPLAY_CACHE_ENABLED (false), ATTEMPT_LIMIT_ENABLED (true)
//
// Webhooks and Maintenance:
//   - WEBHOOK_MAX_ATTEMPTS (5), WEBHOOK_BASE_DELAY (1s), WEBHOOK_ATTEMPT_TIMEOUT (10s), WEBHOOK_MAX_RPS (0)
//   - AUDIT_RETENTION (720h), DEAD_LETTER_RETENTION (720h), MAINTENANCE_SCHEDULE (@hourly)
//
// Durations accept Go syntax plus the "d" and "w" suffixes ("30d", "2w").
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"federation-gateway/internal/common/utils"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for the federation gateway.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	LogFile     string
	LogFormat   string
	TLSCertFile string
	TLSKeyFile  string

	// Key-value store
	StoreBackend  string // "memory" or "redis"
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Security
	JWTSecret      string
	EncryptionKey  string
	FederationKeys string
	JWTExpiry      time.Duration
	JWTIssuer      string
	TrustedProxies []string

	// Federation protocol
	ClockSkewTolerance  time.Duration
	MaxBodyBytes        int64
	IdempotencyTTL      time.Duration
	RateLimitEnabled    bool
	RateLimitDefault    int
	RateLimitWindow     time.Duration
	ReplayCacheEnabled  bool
	AttemptLimitEnabled bool

	// Webhooks
	WebhookMaxAttempts    int
	WebhookBaseDelay      time.Duration
	WebhookAttemptTimeout time.Duration
	WebhookMaxRPS         float64

	// Maintenance
	AuditRetention      time.Duration
	DeadLetterRetention time.Duration
	MaintenanceSchedule string

	// parse errors collected by Load and reported by Validate
	errs []error
}

// Load creates a new Config with values from environment variables.
// Unparsable values are kept at their defaults and reported by Validate.
func Load() *Config {
	c := &Config{}

	c.Port = getEnv("PORT", "8080")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFile = getEnv("LOG_FILE", "federation-gateway.log")
	c.LogFormat = getEnv("LOG_FORMAT", "console")
	c.TLSCertFile = getEnv("TLS_CERT_FILE", "")
	c.TLSKeyFile = getEnv("TLS_KEY_FILE", "")

	c.StoreBackend = getEnv("STORE_BACKEND", "memory")
	c.RedisAddress = getEnv("REDIS_ADDRESS", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)

	c.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	c.DatabasePath = getEnv("DATABASE_PATH", "./federation_gateway.db")
	c.PostgresHost = getEnv("POSTGRES_HOST", "localhost")
	c.PostgresPort = getEnv("POSTGRES_PORT", "5432")
	c.PostgresDB = getEnv("POSTGRES_DB", "federation")
	c.PostgresUser = getEnv("POSTGRES_USER", "postgres")
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", "")
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", "disable")

	c.JWTSecret = getEnv("JWT_SECRET", "")
	c.EncryptionKey = getEnv("CONFIG_ENCRYPTION_KEY", "")
	c.FederationKeys = getEnv("FEDERATION_SIGNING_KEYS", "")
	c.JWTExpiry = c.getDurationEnv("JWT_EXPIRY", time.Hour)
	c.JWTIssuer = getEnv("JWT_ISSUER", "federation-gateway")
	c.TrustedProxies = getListEnv("TRUSTED_PROXIES")

	c.ClockSkewTolerance = c.getDurationEnv("CLOCK_SKEW_TOLERANCE", 300*time.Second)
	c.MaxBodyBytes = int64(c.getIntEnv("MAX_BODY_BYTES", 1<<20))
	c.IdempotencyTTL = c.getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour)
	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitDefault = c.getIntEnv("RATE_LIMIT_DEFAULT", 100)
	c.RateLimitWindow = c.getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second)
	c.ReplayCacheEnabled = getBoolEnv("REPLAY_CACHE_ENABLED", false)
	c.AttemptLimitEnabled = getBoolEnv("ATTEMPT_LIMIT_ENABLED", true)

	c.WebhookMaxAttempts = c.getIntEnv("WEBHOOK_MAX_ATTEMPTS", 5)
	c.WebhookBaseDelay = c.getDurationEnv("WEBHOOK_BASE_DELAY", time.Second)
	c.WebhookAttemptTimeout = c.getDurationEnv("WEBHOOK_ATTEMPT_TIMEOUT", 10*time.Second)
	c.WebhookMaxRPS = c.getFloatEnv("WEBHOOK_MAX_RPS", 0)

	c.AuditRetention = c.getDurationEnv("AUDIT_RETENTION", 720*time.Hour)
	c.DeadLetterRetention = c.getDurationEnv("DEAD_LETTER_RETENTION", 720*time.Hour)
	c.MaintenanceSchedule = getEnv("MAINTENANCE_SCHEDULE", "@hourly")

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings and falls back to
// defaultValue for anything else.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable, dropping blank entries.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s must be an integer", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s must be a number", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := utils.ParseDuration(value)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s must be a valid duration (e.g., '60s', '1m', '30d')", key))
		return defaultValue
	}
	return parsed
}

// AdminEnabled reports whether the JWT admin API is mounted
func (c *Config) AdminEnabled() bool {
	return c.JWTSecret != ""
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if len(c.errs) > 0 {
		return c.errs[0]
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	switch c.StoreBackend {
	case "memory":
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when STORE_BACKEND is redis")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be 'memory' or 'redis'")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	for _, proxy := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not a CIDR or IP address", proxy)
		}
	}

	if c.ClockSkewTolerance <= 0 {
		return fmt.Errorf("CLOCK_SKEW_TOLERANCE must be positive")
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("MAX_BODY_BYTES must be a positive number")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.RateLimitEnabled {
		if c.RateLimitDefault < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}

	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if c.WebhookBaseDelay < 0 || c.WebhookAttemptTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_BASE_DELAY must not be negative and WEBHOOK_ATTEMPT_TIMEOUT must be positive")
	}
	if c.WebhookMaxRPS < 0 {
		return fmt.Errorf("WEBHOOK_MAX_RPS must not be negative")
	}

	if c.AuditRetention <= 0 || c.DeadLetterRetention <= 0 {
		return fmt.Errorf("AUDIT_RETENTION and DEAD_LETTER_RETENTION must be positive")
	}
	if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
		return fmt.Errorf("MAINTENANCE_SCHEDULE must be a valid cron expression: %v", err)
	}

	return nil
}

// PostgresDSN builds the pgx connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode)
}
