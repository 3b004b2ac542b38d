// Package config gathers environment configuration for the server.
package config

import (
	"fmt"
	"os"
)

// Config holds all server configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFile   string
	JWTSecret []byte

	DatabaseURL string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	Environment string
}

// Load reads configuration from the environment. JWT_SECRET is the only
// required variable; everything else has a development default.
func Load() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return &Config{
		Port:          getEnvOrDefault("PORT", "8787"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:       getEnvOrDefault("LOG_FILE", "server.log"),
		JWTSecret:     []byte(secret),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Environment:   getEnvOrDefault("ENVIRONMENT", "development"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
