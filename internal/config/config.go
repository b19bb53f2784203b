// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the onboarding service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// PGMaxConns caps the postgres pool size; 0 keeps the pgx default.
	PGMaxConns int32

	// SweepIntervalHours is how often the reminder sweep fires.
	SweepIntervalHours int

	// StalePendingHours is how old a PENDING attempt must be before the
	// sweep flags it.
	StalePendingHours int
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("ONBOARDING_PORT")
	if port == "" {
		port = "8083"
	}

	maxConns, err := positiveInt("PG_MAX_CONNS", 0)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := positiveInt("SWEEP_INTERVAL_HOURS", 6)
	if err != nil {
		return nil, err
	}

	stalePending, err := positiveInt("STALE_PENDING_HOURS", 72)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:               port,
		DatabaseURL:        dbURL,
		RedisURL:           redisURL,
		PGMaxConns:         int32(maxConns),
		SweepIntervalHours: sweepInterval,
		StalePendingHours:  stalePending,
	}, nil
}

func positiveInt(name string, fallback int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}
