package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	CORSOrigins string
	TablePrefix string
	LogDir      string
	// LLM Configuration
	AnthropicAPIKey string
	LLMProvider     string
	LLMModel        string
	// Turn engine tuning
	LeaseTTL           time.Duration
	MaxConflictRetries int
	OutboxPollInterval time.Duration
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)
	anthropicKey := getEnv("ANTHROPIC_API_KEY", "")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: tablePrefix,
		LogDir:      getEnv("LOG_DIR", ""),
		// LLM Configuration - without an API key the lorem provider keeps
		// the whole pipeline runnable locally
		AnthropicAPIKey: anthropicKey,
		LLMProvider:     getEnv("LLM_PROVIDER", getDefaultProvider(anthropicKey)),
		LLMModel:        getEnv("LLM_MODEL", "claude-haiku-4-5-20251001"),
		// Turn engine tuning
		LeaseTTL:           time.Duration(getEnvInt("LEASE_TTL_SECONDS", 90)) * time.Second,
		MaxConflictRetries: getEnvInt("MAX_CONFLICT_RETRIES", 1),
		OutboxPollInterval: time.Duration(getEnvInt("OUTBOX_POLL_INTERVAL", 2)) * time.Second,
	}
}

// getDefaultProvider picks lorem when no Anthropic key is configured
func getDefaultProvider(anthropicKey string) string {
	if anthropicKey == "" {
		return "lorem"
	}
	return "anthropic"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	case "dev":
		return "dev_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
