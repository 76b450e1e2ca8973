package config

import (
	"strings"
	"testing"
	"time"
)

var allVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FILE", "LOG_FORMAT", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"STORE_BACKEND", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"DATABASE_TYPE", "DATABASE_PATH", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB",
	"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"JWT_SECRET", "JWT_ISSUER", "JWT_EXPIRY", "CONFIG_ENCRYPTION_KEY", "FEDERATION_SIGNING_KEYS",
	"TRUSTED_PROXIES",
	"CLOCK_SKEW_TOLERANCE", "MAX_BODY_BYTES", "IDEMPOTENCY_TTL",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_DEFAULT", "RATE_LIMIT_WINDOW",
	"REPLAY_CACHE_ENABLED", "ATTEMPT_LIMIT_ENABLED",
	"WEBHOOK_MAX_ATTEMPTS", "WEBHOOK_BASE_DELAY", "WEBHOOK_ATTEMPT_TIMEOUT", "WEBHOOK_MAX_RPS",
	"AUDIT_RETENTION", "DEAD_LETTER_RETENTION", "MAINTENANCE_SCHEDULE",
}

// clearTestEnvVars blanks every variable Load reads; empty values fall back to defaults.
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range allVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.StoreBackend != "memory" {
		t.Errorf("Load() StoreBackend = %v, want memory", config.StoreBackend)
	}
	if config.DatabasePath != "./federation_gateway.db" {
		t.Errorf("Load() DatabasePath = %v, want ./federation_gateway.db", config.DatabasePath)
	}
	if config.PostgresDB != "federation" {
		t.Errorf("Load() PostgresDB = %v, want federation", config.PostgresDB)
	}
	if config.ClockSkewTolerance != 300*time.Second {
		t.Errorf("Load() ClockSkewTolerance = %v, want 300s", config.ClockSkewTolerance)
	}
	if config.RateLimitDefault != 100 || config.RateLimitWindow != time.Minute || !config.RateLimitEnabled {
		t.Errorf("Load() rate limit = %v/%v enabled=%v, want 100/1m enabled", config.RateLimitDefault, config.RateLimitWindow, config.RateLimitEnabled)
	}
	if config.MaxBodyBytes != 1048576 {
		t.Errorf("Load() MaxBodyBytes = %v, want 1048576", config.MaxBodyBytes)
	}
	if config.IdempotencyTTL != 24*time.Hour {
		t.Errorf("Load() IdempotencyTTL = %v, want 24h", config.IdempotencyTTL)
	}
	if config.ReplayCacheEnabled {
		t.Error("Load() ReplayCacheEnabled should default to false")
	}
	if !config.AttemptLimitEnabled {
		t.Error("Load() AttemptLimitEnabled should default to true")
	}
	if config.WebhookMaxAttempts != 5 || config.WebhookBaseDelay != time.Second || config.WebhookAttemptTimeout != 10*time.Second {
		t.Errorf("Load() webhook = %d/%v/%v, want 5/1s/10s", config.WebhookMaxAttempts, config.WebhookBaseDelay, config.WebhookAttemptTimeout)
	}
	if config.AuditRetention != 720*time.Hour || config.DeadLetterRetention != 720*time.Hour {
		t.Errorf("Load() retention = %v/%v, want 720h", config.AuditRetention, config.DeadLetterRetention)
	}
	if config.MaintenanceSchedule != "@hourly" {
		t.Errorf("Load() MaintenanceSchedule = %v, want @hourly", config.MaintenanceSchedule)
	}
	if config.AdminEnabled() {
		t.Error("Load() admin API should be disabled without JWT_SECRET")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_DEFAULT", "250")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("REPLAY_CACHE_ENABLED", "true")
	t.Setenv("AUDIT_RETENTION", "30d")
	t.Setenv("DEAD_LETTER_RETENTION", "2w")
	t.Setenv("WEBHOOK_MAX_RPS", "2.5")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,192.168.1.5")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Port = %v, want 9090", config.Port)
	}
	if config.RedisDB != 3 {
		t.Errorf("RedisDB = %v, want 3", config.RedisDB)
	}
	if config.RateLimitDefault != 250 || config.RateLimitWindow != 2*time.Minute {
		t.Errorf("rate limit = %v/%v, want 250/2m", config.RateLimitDefault, config.RateLimitWindow)
	}
	if !config.ReplayCacheEnabled {
		t.Error("ReplayCacheEnabled should be true")
	}
	if config.AuditRetention != 30*24*time.Hour {
		t.Errorf("AuditRetention = %v, want 720h", config.AuditRetention)
	}
	if config.DeadLetterRetention != 14*24*time.Hour {
		t.Errorf("DeadLetterRetention = %v, want 336h", config.DeadLetterRetention)
	}
	if config.WebhookMaxRPS != 2.5 {
		t.Errorf("WebhookMaxRPS = %v, want 2.5", config.WebhookMaxRPS)
	}
	if len(config.TrustedProxies) != 2 || config.TrustedProxies[1] != "192.168.1.5" {
		t.Errorf("TrustedProxies = %v, want [10.0.0.0/8 192.168.1.5]", config.TrustedProxies)
	}
	if !config.AdminEnabled() {
		t.Error("admin API should be enabled with JWT_SECRET")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"FALSE", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getBoolEnv("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET must be at least 32"},
		{"bad port", map[string]string{"PORT": "70000"}, "PORT must be a valid port"},
		{"unknown store", map[string]string{"STORE_BACKEND": "etcd"}, "STORE_BACKEND must be"},
		{"redis db out of range", map[string]string{"STORE_BACKEND": "redis", "REDIS_DB": "16"}, "REDIS_DB must be"},
		{"unknown database", map[string]string{"DATABASE_TYPE": "mysql"}, "DATABASE_TYPE must be"},
		{"postgres bad port", map[string]string{"DATABASE_TYPE": "postgres", "POSTGRES_PORT": "abc"}, "POSTGRES_PORT must be"},
		{"unparsable duration", map[string]string{"CLOCK_SKEW_TOLERANCE": "soon"}, "CLOCK_SKEW_TOLERANCE must be a valid duration"},
		{"unparsable int", map[string]string{"RATE_LIMIT_DEFAULT": "lots"}, "RATE_LIMIT_DEFAULT must be an integer"},
		{"zero rate limit", map[string]string{"RATE_LIMIT_DEFAULT": "0"}, "RATE_LIMIT_DEFAULT must be a positive"},
		{"zero rate limit disabled", map[string]string{"RATE_LIMIT_DEFAULT": "0", "RATE_LIMIT_ENABLED": "false"}, ""},
		{"zero attempts", map[string]string{"WEBHOOK_MAX_ATTEMPTS": "0"}, "WEBHOOK_MAX_ATTEMPTS must be"},
		{"half tls", map[string]string{"TLS_CERT_FILE": "cert.pem"}, "TLS_CERT_FILE and TLS_KEY_FILE"},
		{"bad schedule", map[string]string{"MAINTENANCE_SCHEDULE": "every tuesday"}, "MAINTENANCE_SCHEDULE must be"},
		{"bad trusted proxy", map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8,proxy.internal"}, "TRUSTED_PROXIES entry"},
		{"trusted proxies", map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8,::1"}, ""},
		{"cron schedule", map[string]string{"MAINTENANCE_SCHEDULE": "*/15 * * * *"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			for k, v := range tt.vars {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("POSTGRES_PASSWORD", "pw")

	want := "host=localhost port=5432 dbname=federation user=postgres password=pw sslmode=disable"
	if got := Load().PostgresDSN(); got != want {
		t.Errorf("PostgresDSN() = %q, want %q", got, want)
	}
}

func BenchmarkLoad(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Load()
	}
}
