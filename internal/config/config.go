package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rotisserie/eris"

	"hostingspace/app/internal/vault"
)

// Config holds runtime configuration values for the hostingspace server.
type Config struct {
	DBDriver       string
	DBPath         string
	DatabaseURL    string
	ServerPort     int
	LogLevel       string
	Environment    string
	SentryDSN      string
	EncryptionKey  string
	AuthJWTSecret  string
	LLMEndpoint    string
	LLMAPIKey      string
	LLMModel       string
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	SweepSchedule  string
	TracingEnabled bool
	ShutdownGrace  time.Duration
}

// RedisConfig locates the key-value store holding published sites.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RateLimitConfig configures the per-client HTTP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultDBDriver       = DriverSQLite
	defaultDBPath         = "./data/hostingspace.db"
	defaultServerPort     = 8080
	defaultLogLevel       = "info"
	defaultEnvironment    = "development"
	defaultLLMModel       = "gemini-2.0-flash"
	defaultRedisAddr      = "localhost:6379"
	defaultRedisKeyPrefix = "site:"
	defaultRateLimitRPS   = 5.0
	defaultRateLimitBurst = 20
	defaultRateLimitTTL   = 10 * time.Minute
	defaultSweepSchedule  = "@daily"
	defaultShutdownGrace  = 10 * time.Second
)

var knownKeys = map[string]struct{}{
	"db_driver": {}, "db_path": {}, "database_url": {}, "server_port": {},
	"log_level": {}, "env": {}, "sentry_dsn": {}, "encryption_key": {},
	"auth_jwt_secret": {}, "llm_endpoint": {}, "llm_api_key": {}, "llm_model": {},
	"redis_addr": {}, "redis_username": {}, "redis_password": {}, "redis_db": {},
	"redis_key_prefix": {}, "rate_limit_rps": {}, "rate_limit_burst": {},
	"rate_limit_ttl": {}, "sweep_schedule": {}, "tracing_enabled": {},
}

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("", ".", func(key string) string {
		lowered := strings.ToLower(key)
		if _, ok := knownKeys[lowered]; !ok {
			return ""
		}
		return lowered
	}), nil); err != nil {
		return nil, eris.Wrap(err, "loading environment")
	}

	cfg := &Config{
		DBDriver:      strings.ToLower(stringOr(k, "db_driver", defaultDBDriver)),
		DBPath:        stringOr(k, "db_path", defaultDBPath),
		DatabaseURL:   k.String("database_url"),
		LogLevel:      stringOr(k, "log_level", defaultLogLevel),
		Environment:   stringOr(k, "env", defaultEnvironment),
		SentryDSN:     k.String("sentry_dsn"),
		EncryptionKey: k.String("encryption_key"),
		AuthJWTSecret: k.String("auth_jwt_secret"),
		LLMEndpoint:   k.String("llm_endpoint"),
		LLMAPIKey:     k.String("llm_api_key"),
		LLMModel:      stringOr(k, "llm_model", defaultLLMModel),
		Redis: RedisConfig{
			Addr:      stringOr(k, "redis_addr", defaultRedisAddr),
			Username:  k.String("redis_username"),
			Password:  k.String("redis_password"),
			KeyPrefix: stringOr(k, "redis_key_prefix", defaultRedisKeyPrefix),
		},
		SweepSchedule: stringOr(k, "sweep_schedule", defaultSweepSchedule),
		ShutdownGrace: defaultShutdownGrace,
	}

	var err error

	if cfg.ServerPort, err = intOr(k, "server_port", defaultServerPort); err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", k.String("server_port"))
	}

	if cfg.Redis.DB, err = intOr(k, "redis_db", 0); err != nil {
		return nil, eris.Wrapf(err, "invalid REDIS_DB value: %s", k.String("redis_db"))
	}

	if cfg.RateLimit, err = loadRateLimit(k); err != nil {
		return nil, err
	}

	if raw := k.String("tracing_enabled"); raw != "" {
		if cfg.TracingEnabled, err = strconv.ParseBool(raw); err != nil {
			return nil, eris.Wrapf(err, "invalid TRACING_ENABLED value: %s", raw)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return eris.New("DATABASE_URL is required when DB_DRIVER is postgres")
		}
	default:
		return eris.Errorf("unsupported DB_DRIVER value: %s", c.DBDriver)
	}

	if !vault.ValidateMasterSecret(c.EncryptionKey) {
		return eris.Errorf("ENCRYPTION_KEY must be at least %d characters", vault.MinMasterSecretLength)
	}

	if c.AuthJWTSecret == "" {
		return eris.New("AUTH_JWT_SECRET is required")
	}

	return nil
}

func loadRateLimit(k *koanf.Koanf) (RateLimitConfig, error) {
	settings := RateLimitConfig{
		RequestsPerSecond: defaultRateLimitRPS,
		Burst:             defaultRateLimitBurst,
		ClientTTL:         defaultRateLimitTTL,
	}

	if raw := k.String("rate_limit_rps"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return settings, eris.Errorf("invalid RATE_LIMIT_RPS value: %s", raw)
		}
		settings.RequestsPerSecond = rps
	}

	burst, err := intOr(k, "rate_limit_burst", defaultRateLimitBurst)
	if err != nil || burst <= 0 {
		return settings, eris.Errorf("invalid RATE_LIMIT_BURST value: %s", k.String("rate_limit_burst"))
	}
	settings.Burst = burst

	if raw := k.String("rate_limit_ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return settings, eris.Errorf("invalid RATE_LIMIT_TTL value: %s", raw)
		}
		settings.ClientTTL = ttl
	}

	return settings, nil
}

func stringOr(k *koanf.Koanf, key, fallback string) string {
	if value := strings.TrimSpace(k.String(key)); value != "" {
		return value
	}
	return fallback
}

func intOr(k *koanf.Koanf, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(k.String(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
