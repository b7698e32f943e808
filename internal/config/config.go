package config

import (
	"errors"
	"os"
)

// dsnVars are tried in order; the dedicated variable wins over the
// generic ones so shared environments can point elsewhere.
var dsnVars = []string{"PARCELS_DATABASE_URL", "DATABASE_URL", "SUPABASE_DB_URL"}

// ErrNoDatabaseURL means no connection string was found in any of the
// supported environment variables
var ErrNoDatabaseURL = errors.New("no database url configured (set PARCELS_DATABASE_URL, DATABASE_URL or SUPABASE_DB_URL)")

// Config carries process-level settings shared by the commands
type Config struct {
	ListenAddr string
	LogLevel   string
}

// Load reads process configuration from the environment
func Load() Config {
	return Config{
		ListenAddr: getEnvOrDefault("PARCELS_HTTP_ADDR", ":8080"),
		LogLevel:   getEnvOrDefault("PARCELS_LOG_LEVEL", "info"),
	}
}

// DatabaseURL returns the destination connection string
func DatabaseURL() (string, error) {
	for _, key := range dsnVars {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return "", ErrNoDatabaseURL
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
