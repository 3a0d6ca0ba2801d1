package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config captures everything the intake server needs at boot. FromEnv keeps
// main lean; defaults suit local development and are overridden in deployment.
type Config struct {
	Addr        string
	PostgresDSN string
	RedisURL    string

	// TotalStages is the number of wizard stages a survey walks through.
	TotalStages int

	// CommitTimeout bounds the aggregate-writer transaction.
	CommitTimeout time.Duration

	// DraftTTL bounds how long an auto-save snapshot lives in the cache.
	DraftTTL time.Duration
}

// FromEnv builds a Config from environment variables. A .env file in the
// working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getEnvOrDefault("CENSO_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("CENSO_POSTGRES_DSN"),
		RedisURL:      os.Getenv("CENSO_REDIS_URL"),
		TotalStages:   getEnvIntOrDefault("CENSO_TOTAL_STAGES", 4),
		CommitTimeout: getEnvDurationOrDefault("CENSO_COMMIT_TIMEOUT", 5*time.Second),
		DraftTTL:      getEnvDurationOrDefault("CENSO_DRAFT_TTL", 24*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
