package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the service reads from the environment. It is
// intentionally flat: each field maps to one env var, the way the storage
// and cache endpoints do.
type Config struct {
	Port    int
	BaseURL string
	Secure  bool

	Environment string
	LogLevel    string
	LogFormat   string

	DatabaseURL string
	RedisURL    string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	// Recording engine tunables. All injectable so the defaults below only
	// matter in production.
	ChunkCadenceSeconds  int
	CountdownSeconds     int
	MaxDurationSeconds   int
	DurationWarningAt    int
	UploadConcurrency    int
	UploadMaxRetries     int
	UploadRetryBaseDelay time.Duration
	SessionMaxAgeSeconds int64
	ProgressWriteMinGap  time.Duration

	OTLPEndpoint      string
	TracingEnabled    bool
	TracingSampleRate float64
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.MinIOEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required")
	}

	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.MinIOAccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY is required")
	}

	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.MinIOSecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY is required")
	}

	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "recordings")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.Secure = getEnvBool("SECURE_COOKIES", false)

	cfg.ChunkCadenceSeconds = getEnvInt("CHUNK_CADENCE_SECONDS", 45)
	cfg.CountdownSeconds = getEnvInt("COUNTDOWN_SECONDS", 3)
	cfg.MaxDurationSeconds = getEnvInt("MAX_DURATION_SECONDS", 900)
	cfg.DurationWarningAt = getEnvInt("DURATION_WARNING_SECONDS", 60)
	cfg.UploadConcurrency = getEnvInt("UPLOAD_CONCURRENCY", 3)
	cfg.UploadMaxRetries = getEnvInt("UPLOAD_MAX_RETRIES", 3)
	cfg.UploadRetryBaseDelay, err = getEnvDuration("UPLOAD_RETRY_BASE_DELAY", "1s")
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_RETRY_BASE_DELAY: %w", err)
	}
	cfg.SessionMaxAgeSeconds = getEnvInt64("SESSION_MAX_AGE_SECONDS", 86400)
	cfg.ProgressWriteMinGap, err = getEnvDuration("PROGRESS_WRITE_MIN_GAP", "1s")
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRESS_WRITE_MIN_GAP: %w", err)
	}

	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.TracingSampleRate = getEnvFloat("TRACING_SAMPLE_RATE", 0.1)

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = os.Getenv("LOG_FORMAT")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.UploadConcurrency < 1 {
		return fmt.Errorf("invalid upload concurrency: %d", c.UploadConcurrency)
	}
	if c.MaxDurationSeconds < 1 {
		return fmt.Errorf("invalid max duration: %d", c.MaxDurationSeconds)
	}
	if c.ChunkCadenceSeconds < 1 {
		return fmt.Errorf("invalid chunk cadence: %d", c.ChunkCadenceSeconds)
	}
	return nil
}
