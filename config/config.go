package config

import (
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
)

const (
	DefaultDatabase = "apistore.db"
	DefaultSchema   = "apistore.yaml"
)

// Config holds all application configuration
type Config struct {
	// Database is the sqlite database path (or DSN)
	Database string
	// Schema is the path of the YAML resource definition file
	Schema string
	// PageSize is the default page size for collection queries
	PageSize     int
	DebugEnabled bool
}

// LoadConfig loads configuration from environment variables
// .env file is automatically loaded via autoload import
func LoadConfig() *Config {
	return &Config{
		Database:     getEnvWithDefault("APISTORE_DATABASE", DefaultDatabase),
		Schema:       getEnvWithDefault("APISTORE_SCHEMA", DefaultSchema),
		PageSize:     getIntEnvWithDefault("APISTORE_PAGE_SIZE", 10),
		DebugEnabled: getBoolEnvWithDefault("DEBUG", false),
	}
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnvWithDefault gets a boolean environment variable with a default fallback
func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnvWithDefault gets a positive integer environment variable with a default fallback
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
