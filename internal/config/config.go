package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName             = "GhostPay"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultShutdownDelay       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyLock     = 30 * time.Second
	defaultLedgerLockTimeout   = 5 * time.Second
	defaultWebhookMaxAttempts  = 4
	defaultWebhookBatchSize    = 20
	defaultWebhookInterval     = 30 * time.Second
	defaultWebhookTimeout      = 10 * time.Second
	defaultWebhookDebounce     = 250 * time.Millisecond
	defaultRateLimitPerMinute  = 120
	developmentJWTSecret       = "ghostpay-dev-secret"
	idempotencyBackendPostgres = "postgres"
	idempotencyBackendRedis    = "redis"
	idempotencyBackendMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	AutoMigrate    bool
	ShutdownPeriod time.Duration

	IdempotencyBackend     string
	IdempotencyTTL         time.Duration
	IdempotencyLockTimeout time.Duration

	LedgerLockTimeout time.Duration

	// RateLimitPerMinute caps mutating requests per caller; 0 disables it.
	// Only enforced when Redis is configured.
	RateLimitPerMinute int

	Webhook WebhookConfig
}

// WebhookConfig tunes the delivery worker.
type WebhookConfig struct {
	MaxAttempts   int
	BatchSize     int
	SweepInterval time.Duration
	Timeout       time.Duration
	Debounce      time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		IdempotencyBackend: strings.ToLower(os.Getenv("IDEMPOTENCY_BACKEND")),
	}

	var err error
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", true); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyLockTimeout, err = getDuration("", "IDEMPOTENCY_LOCK_TIMEOUT", defaultIdempotencyLock); err != nil {
		return Config{}, err
	}
	if cfg.LedgerLockTimeout, err = getDuration("", "LEDGER_LOCK_TIMEOUT", defaultLedgerLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LedgerLockTimeout <= 0 {
		return Config{}, fmt.Errorf("LEDGER_LOCK_TIMEOUT must be positive")
	}
	if cfg.IdempotencyLockTimeout <= cfg.LedgerLockTimeout {
		// A key lease shorter than a posting's lock wait would expire under a
		// request that is still running and let a retry post it again.
		return Config{}, fmt.Errorf("IDEMPOTENCY_LOCK_TIMEOUT (%s) must be greater than LEDGER_LOCK_TIMEOUT (%s)",
			cfg.IdempotencyLockTimeout, cfg.LedgerLockTimeout)
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.Webhook, err = loadWebhook(); err != nil {
		return Config{}, err
	}

	if cfg.IdempotencyBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.IdempotencyBackend = idempotencyBackendPostgres
		} else {
			cfg.IdempotencyBackend = idempotencyBackendMemory
		}
	}

	switch cfg.IdempotencyBackend {
	case idempotencyBackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set for the postgres idempotency backend")
		}
	case idempotencyBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set for the redis idempotency backend")
		}
	case idempotencyBackendMemory:
	default:
		return Config{}, fmt.Errorf("invalid IDEMPOTENCY_BACKEND %q", cfg.IdempotencyBackend)
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = developmentJWTSecret
	}

	return cfg, nil
}

func loadWebhook() (WebhookConfig, error) {
	wc := WebhookConfig{}
	var err error
	if wc.MaxAttempts, err = getInt("WEBHOOK_MAX_ATTEMPTS", defaultWebhookMaxAttempts); err != nil {
		return WebhookConfig{}, err
	}
	if wc.BatchSize, err = getInt("WEBHOOK_BATCH_SIZE", defaultWebhookBatchSize); err != nil {
		return WebhookConfig{}, err
	}
	if wc.SweepInterval, err = getDuration("", "WEBHOOK_SWEEP_INTERVAL", defaultWebhookInterval); err != nil {
		return WebhookConfig{}, err
	}
	if wc.Timeout, err = getDuration("", "WEBHOOK_TIMEOUT", defaultWebhookTimeout); err != nil {
		return WebhookConfig{}, err
	}
	if wc.Debounce, err = getDuration("", "WEBHOOK_DEBOUNCE", defaultWebhookDebounce); err != nil {
		return WebhookConfig{}, err
	}
	if wc.MaxAttempts < 1 {
		return WebhookConfig{}, fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if wc.BatchSize < 1 {
		return WebhookConfig{}, fmt.Errorf("WEBHOOK_BATCH_SIZE must be at least 1")
	}
	if wc.SweepInterval <= 0 {
		return WebhookConfig{}, fmt.Errorf("WEBHOOK_SWEEP_INTERVAL must be positive")
	}
	return wc, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the app runs in a local/dev environment where
// in-memory stores are acceptable.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration prefers the integer-seconds variable when both are set.
func getDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
