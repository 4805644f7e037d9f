package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis
	RedisURL string

	// JWT
	JWTSecret      string
	AccessTokenTTL time.Duration

	// Tracking
	TimeZone           string
	SweepInterval      time.Duration
	TrackingRatePerSec float64
	TrackingBurst      int

	// Event delivery
	EventWorkers   int
	EventQueueSize int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:        mustGetEnv("DATABASE_URL"),
		MigrationsDir:      getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:           mustGetEnv("REDIS_URL"),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		AccessTokenTTL:     getEnvAsDurationOrDefault("ACCESS_TOKEN_TTL", 24*time.Hour),
		TimeZone:           getEnvOrDefault("TIME_ZONE", "UTC"),
		SweepInterval:      getEnvAsDurationOrDefault("SWEEP_INTERVAL", time.Minute),
		TrackingRatePerSec: getEnvAsFloatOrDefault("TRACKING_RATE_PER_SEC", 20),
		TrackingBurst:      getEnvAsIntOrDefault("TRACKING_BURST", 40),
		EventWorkers:       getEnvAsIntOrDefault("EVENT_WORKERS", 2),
		EventQueueSize:     getEnvAsIntOrDefault("EVENT_QUEUE_SIZE", 256),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

// Location resolves TIME_ZONE, the zone naive client timestamps are read in.
// An unknown zone name falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvAsDurationOrDefault accepts Go durations ("90s", "1m") and a bare "0".
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}
