package config

import (
	"strings"
	"testing"
	"time"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func clearEnv(t *testing.T) {
	t.Helper()

	for key := range knownKeys {
		t.Setenv(strings.ToUpper(key), "")
	}
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DBDriver != DriverSQLite {
		t.Errorf("expected default DB driver %q, got %q", DriverSQLite, cfg.DBDriver)
	}

	if cfg.DBPath != defaultDBPath {
		t.Errorf("expected default DB path %q, got %q", defaultDBPath, cfg.DBPath)
	}

	if cfg.ServerPort != defaultServerPort {
		t.Errorf("expected default server port %d, got %d", defaultServerPort, cfg.ServerPort)
	}

	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("expected default log level %q, got %q", defaultLogLevel, cfg.LogLevel)
	}

	if cfg.Environment != defaultEnvironment {
		t.Errorf("expected default environment %q, got %q", defaultEnvironment, cfg.Environment)
	}

	if cfg.LLMModel != defaultLLMModel {
		t.Errorf("expected default model %q, got %q", defaultLLMModel, cfg.LLMModel)
	}

	if cfg.Redis.Addr != defaultRedisAddr || cfg.Redis.KeyPrefix != defaultRedisKeyPrefix || cfg.Redis.DB != 0 {
		t.Errorf("unexpected redis defaults: %+v", cfg.Redis)
	}

	if cfg.RateLimit.Burst != defaultRateLimitBurst || cfg.RateLimit.RequestsPerSecond != defaultRateLimitRPS || cfg.RateLimit.ClientTTL != defaultRateLimitTTL {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}

	if cfg.SweepSchedule != defaultSweepSchedule {
		t.Errorf("expected sweep schedule %q, got %q", defaultSweepSchedule, cfg.SweepSchedule)
	}

	if cfg.ShutdownGrace != defaultShutdownGrace {
		t.Errorf("expected shutdown grace %s, got %s", defaultShutdownGrace, cfg.ShutdownGrace)
	}

	if cfg.TracingEnabled {
		t.Errorf("expected tracing to be disabled by default")
	}

	if cfg.SentryDSN != "" {
		t.Errorf("expected empty Sentry DSN, got %q", cfg.SentryDSN)
	}
}

func TestLoadWithExplicitValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/hosting")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "production")
	t.Setenv("LLM_ENDPOINT", "https://example.com/llm")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("LLM_MODEL", "alpha")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_KEY_PREFIX", "pub:")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_TTL", "30s")
	t.Setenv("SWEEP_SCHEDULE", "@hourly")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DBDriver != DriverPostgres || cfg.DatabaseURL != "postgres://localhost/hosting" {
		t.Errorf("unexpected database settings: %q %q", cfg.DBDriver, cfg.DatabaseURL)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("expected server port 9090, got %d", cfg.ServerPort)
	}

	if cfg.LogLevel != "debug" || cfg.Environment != "production" {
		t.Errorf("unexpected log level/environment: %q %q", cfg.LogLevel, cfg.Environment)
	}

	if cfg.LLMEndpoint != "https://example.com/llm" || cfg.LLMAPIKey != "secret" || cfg.LLMModel != "alpha" {
		t.Errorf("unexpected llm settings: %q %q %q", cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMModel)
	}

	if cfg.Redis.Addr != "cache:6380" || cfg.Redis.DB != 3 || cfg.Redis.KeyPrefix != "pub:" {
		t.Errorf("unexpected redis settings: %+v", cfg.Redis)
	}

	if cfg.RateLimit.RequestsPerSecond != 2.5 || cfg.RateLimit.Burst != 7 || cfg.RateLimit.ClientTTL != 30*time.Second {
		t.Errorf("unexpected rate limit settings: %+v", cfg.RateLimit)
	}

	if cfg.SweepSchedule != "@hourly" || !cfg.TracingEnabled {
		t.Errorf("unexpected sweep/tracing settings: %q %v", cfg.SweepSchedule, cfg.TracingEnabled)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "invalid")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for invalid port, got nil")
	}

	if !strings.Contains(err.Error(), "invalid SERVER_PORT value") {
		t.Fatalf("expected error to mention invalid SERVER_PORT value, got %v", err)
	}
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "too-short")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for short encryption key")
	}

	if !strings.Contains(err.Error(), "ENCRYPTION_KEY") {
		t.Fatalf("expected error to mention ENCRYPTION_KEY, got %v", err)
	}
	if strings.Contains(err.Error(), "too-short") {
		t.Fatalf("error must not echo the secret, got %v", err)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when AUTH_JWT_SECRET is missing")
	}
}

func TestLoadRejectsPostgresWithoutURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRejectsInvalidRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_BURST", "0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_BURST") {
		t.Fatalf("expected rate limit burst error, got %v", err)
	}
}
