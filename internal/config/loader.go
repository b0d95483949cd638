package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgeapp.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FORGEAPP_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGEAPP_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGEAPP_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGEAPP_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGEAPP_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGEAPP_PG_HEALTH_CHECK")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.GitHub.APIBaseURL, "FORGEAPP_GITHUB_API_URL")
	setString(&cfg.GitHub.GraphQLURL, "FORGEAPP_GITHUB_GRAPHQL_URL")
	setString(&cfg.GitHub.WebhookSecret, "FORGEAPP_WEBHOOK_SECRET")
	setString(&cfg.GitHub.AppToken, "FORGEAPP_GITHUB_APP_TOKEN")
	setString(&cfg.Idempotency.Backend, "FORGEAPP_IDEMPOTENCY_BACKEND")
	setDuration(&cfg.Idempotency.TTL, "FORGEAPP_IDEMPOTENCY_TTL")
	setInt(&cfg.Replay.MaxAttempts, "FORGEAPP_REPLAY_MAX_ATTEMPTS")
	setInt(&cfg.Retry.MaxRetries, "FORGEAPP_RETRY_MAX_RETRIES")
	setDuration(&cfg.Retry.InitialInterval, "FORGEAPP_RETRY_INITIAL_INTERVAL")
	setDuration(&cfg.Retry.MaxInterval, "FORGEAPP_RETRY_MAX_INTERVAL")
	setInt(&cfg.Breaker.MaxFailures, "FORGEAPP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGEAPP_BREAKER_TIMEOUT")
	setInt64(&cfg.TokenCache.MaxSizeMB, "FORGEAPP_TOKEN_CACHE_SIZE_MB")
	setDuration(&cfg.TokenCache.ExpiryMargin, "FORGEAPP_TOKEN_EXPIRY_MARGIN")
	setString(&cfg.Logging.Level, "FORGEAPP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGEAPP_LOG_SERVICE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	switch cfg.Idempotency.Backend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("idempotency.backend must be memory, postgres or redis, got %q", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
