package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Outbound events. Without a Redis URL events are only logged.
	RedisURL     string
	EventsStream string
	EventsBuffer int

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for rule tables and report archives

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// Compliance rule table
	RulesKey            string // Object key of the published rule table
	RulesReloadSchedule string // Cron expression with seconds; empty disables reload

	// Worker Configuration (automated review lane)
	WorkerEnabled           bool
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerJobTimeout        time.Duration
	WorkerStaleThreshold    time.Duration
	WorkerRecoverySchedule  string

	// Validation queue
	QueueMaxAttempts    int
	QueueRetryBaseDelay time.Duration
	QueueRetryMaxDelay  time.Duration
	QueueSweepSchedule  string

	// QR access ledger
	LedgerBufferSize    int
	LedgerBatchSize     int
	LedgerFlushInterval time.Duration

	// Public endpoints
	PublicRateLimit    int      // Requests per minute per client IP on QR resolve
	CORSAllowedOrigins []string // Origins allowed to call public endpoints

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RedisURL:     getEnv("REDIS_URL", ""),
		EventsStream: getEnv("EVENTS_STREAM", "truelabel:events"),
		EventsBuffer: getEnvInt("EVENTS_BUFFER", 256),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		RulesKey:            getEnv("RULES_KEY", "rules/ruleset.yaml"),
		RulesReloadSchedule: getEnv("RULES_RELOAD_SCHEDULE", "0 * * * * *"),

		// Worker defaults
		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval:     getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:       getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		WorkerStaleThreshold:   getEnvDuration("WORKER_STALE_THRESHOLD", 10*time.Minute),
		WorkerRecoverySchedule: getEnv("WORKER_RECOVERY_SCHEDULE", "30 */5 * * * *"),

		// Queue defaults
		QueueMaxAttempts:    getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueRetryBaseDelay: getEnvDuration("QUEUE_RETRY_BASE_DELAY", time.Minute),
		QueueRetryMaxDelay:  getEnvDuration("QUEUE_RETRY_MAX_DELAY", time.Hour),
		QueueSweepSchedule:  getEnv("QUEUE_SWEEP_SCHEDULE", "*/30 * * * * *"),

		// Ledger defaults
		LedgerBufferSize:    getEnvInt("LEDGER_BUFFER_SIZE", 1024),
		LedgerBatchSize:     getEnvInt("LEDGER_BATCH_SIZE", 100),
		LedgerFlushInterval: getEnvDuration("LEDGER_FLUSH_INTERVAL", 2*time.Second),

		PublicRateLimit:    getEnvInt("PUBLIC_RATE_LIMIT", 60),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	if cfg.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", cfg.QueueMaxAttempts)
	}
	if cfg.QueueRetryBaseDelay <= 0 || cfg.QueueRetryMaxDelay < cfg.QueueRetryBaseDelay {
		return fmt.Errorf("QUEUE_RETRY_MAX_DELAY (%v) must be at least QUEUE_RETRY_BASE_DELAY (%v)", cfg.QueueRetryMaxDelay, cfg.QueueRetryBaseDelay)
	}
	if cfg.PublicRateLimit < 1 {
		return fmt.Errorf("PUBLIC_RATE_LIMIT must be at least 1, got %d", cfg.PublicRateLimit)
	}
	if (cfg.MetricsUsername == "") != (cfg.MetricsPassword == "") {
		return fmt.Errorf("METRICS_USERNAME and METRICS_PASSWORD must be set together")
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode.
func (cfg *Config) IsDevelopment() bool {
	return cfg.Env == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
