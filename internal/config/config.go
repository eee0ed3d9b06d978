package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// Storage (S3-compatible, typically Cloudflare R2)
	R2Endpoint  = os.Getenv("R2_ENDPOINT")
	R2AccessKey = os.Getenv("R2_ACCESS_KEY_ID")
	R2SecretKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	R2Bucket    = os.Getenv("R2_BUCKET_NAME")
	R2PublicURL = os.Getenv("R2_PUBLIC_URL")

	// Queue
	RedisURL = getEnvWithDefault("REDIS_URL", "redis://localhost:6379")

	// Database. A postgres:// DSN selects the Postgres backend, anything else
	// is treated as a SQLite file path.
	DatabaseURL = getEnvWithDefault("DATABASE_URL", "mediascribe.db")

	// AI providers
	GeminiAPIKey    = os.Getenv("GEMINI_API_KEY")
	GeminiModel     = getEnvWithDefault("GEMINI_MODEL", "gemini-2.0-flash")
	OpenRouterKey   = os.Getenv("OPENROUTER_API_KEY")
	OpenRouterModel = getEnvWithDefault("OPENROUTER_MODEL", "anthropic/claude-3.5-sonnet")

	// Ops
	Port              = getEnvWithDefault("PORT", "8080")
	WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 2)
	IdleTimeout       = getEnvDurationMS("IDLE_TIMEOUT", 10*time.Minute)
	StageTimeout      = getEnvDurationMS("STAGE_TIMEOUT_MS", 30*time.Minute)
	TmpDir            = getEnvWithDefault("TMP_DIR", os.TempDir())
	AllowedOrigins    = splitCSV(getEnvWithDefault("ALLOWED_ORIGINS", "*"))

	// Tokens that mark a transcript chunk as confabulated. The defaults match
	// phrases the speech model is known to invent on silent audio.
	HallucinationTokens = splitCSV(getEnvWithDefault("HALLUCINATION_TOKENS",
		"Beadaholique.com,subscribe to my channel,MBC 뉴스"))
)

const (
	// SinglePutThreshold is the largest upload served by one presigned PUT.
	SinglePutThreshold = 50 << 20
	// ChunkSeconds is the duration of one transcription chunk.
	ChunkSeconds = 300
	// ChunkThresholdBytes is the optimized-audio size above which we split.
	ChunkThresholdBytes = 4 << 20
	// MaxAttempts is the per-job retry budget.
	MaxAttempts = 3
	// SweepInterval is how often the deadline sweeper runs.
	SweepInterval = 15 * time.Minute
	// SweepGrace is how far past its deadline a processing job may sit
	// before the sweeper requeues it.
	SweepGrace = 2 * time.Hour
	// StaleUploadAge is how old an unfinished record may be before GC.
	StaleUploadAge = 24 * time.Hour
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDurationMS reads a millisecond count from the environment.
func getEnvDurationMS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
