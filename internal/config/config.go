package config

import (
	"os"
	"strconv"
)

// Config centralizes runtime settings for the API and the sweep worker.
type Config struct {
	Port string

	AuthToken      string
	AdminAuthToken string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	PublishWebhookURL       string
	PublishWebhookToken     string
	PublishTimeoutMS        int
	PublishMaxRetries       int
	PublishBatchingEnabled  bool
	PublishBatchFlushMS     int
	PublishBatchTimeoutMS   int
	PublishBatchQueueLength int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins string

	SweepEnabled         bool
	SweepIntervalSeconds int
	SweepBatchSize       int
	ClaimTTLMinutes      int
	RequestTTLHours      int

	IdempotencyTTLSeconds int
	IdempotencyMaxEntries int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:      getEnv("API_AUTH_TOKEN", ""),
		AdminAuthToken: getEnv("ADMIN_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "site_updates"),

		PublishWebhookURL:       getEnv("PUBLISH_WEBHOOK_URL", ""),
		PublishWebhookToken:     getEnv("PUBLISH_WEBHOOK_TOKEN", ""),
		PublishTimeoutMS:        getEnvInt("PUBLISH_TIMEOUT_MS", 10000),
		PublishMaxRetries:       getEnvInt("PUBLISH_MAX_RETRIES", 2),
		PublishBatchingEnabled:  getEnvBool("PUBLISH_BATCHING_ENABLED", true),
		PublishBatchFlushMS:     getEnvInt("PUBLISH_BATCH_FLUSH_MS", 500),
		PublishBatchTimeoutMS:   getEnvInt("PUBLISH_BATCH_TIMEOUT_MS", 3000),
		PublishBatchQueueLength: getEnvInt("PUBLISH_BATCH_QUEUE_LENGTH", 1024),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		SweepEnabled:         getEnvBool("SWEEP_ENABLED", true),
		SweepIntervalSeconds: getEnvInt("SWEEP_INTERVAL_SECONDS", 60),
		SweepBatchSize:       getEnvInt("SWEEP_BATCH_SIZE", 100),
		ClaimTTLMinutes:      getEnvInt("CLAIM_TTL_MINUTES", 30),
		RequestTTLHours:      getEnvInt("REQUEST_TTL_HOURS", 72),

		IdempotencyTTLSeconds: getEnvInt("IDEMPOTENCY_TTL_SECONDS", 900),
		IdempotencyMaxEntries: getEnvInt("IDEMPOTENCY_MAX_ENTRIES", 2000),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
