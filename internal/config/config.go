package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Runtime
	Env      string // "dev" switches to console logging
	LogLevel string

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// Mixpanel
	RateLimit    float64 // requests per second, 0 = unlimited
	RowBatchSize int

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	rateLimit, err := strconv.ParseFloat(getEnv("MIXPANEL_RATE_LIMIT", "0"), 64)
	if err != nil {
		return nil, &ConfigError{Field: "MIXPANEL_RATE_LIMIT", Message: "must be a number"}
	}
	batchSize, err := strconv.Atoi(getEnv("ROW_BATCH_SIZE", "500"))
	if err != nil {
		return nil, &ConfigError{Field: "ROW_BATCH_SIZE", Message: "must be an integer"}
	}

	return &Config{
		Env:          getEnv("APP_ENV", "dev"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StorageType:  getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "./mixpanel.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RateLimit:    rateLimit,
		RowBatchSize: batchSize,
		APIPort:      getEnv("API_PORT", "8080"),
		APIHost:      getEnv("API_HOST", "localhost"),
		APIEndpoint:  getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "MIXPANEL_RATE_LIMIT", Message: "must not be negative"}
	}
	if c.RowBatchSize < 1 {
		return &ConfigError{Field: "ROW_BATCH_SIZE", Message: "must be 1 or larger"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
