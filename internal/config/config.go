package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Wager settings
	WagerTiers   []float64 // allowed stake amounts
	PayoutFactor float64   // winner receives wager * factor; house keeps the rest of the pot

	// Clock settings (milliseconds)
	InitialClockMs  int64
	MoveIncrementMs int64

	// Queue settings
	QueueTTLMinutes   int
	QueueSweepSeconds int

	// Session settings
	DisconnectGraceSeconds int
	DisconnectPollSeconds  int

	// Security
	JWTSecret string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/blitzwager?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Wager settings
		WagerTiers:   getEnvFloats("WAGER_TIERS", []float64{100, 250, 500, 1000}),
		PayoutFactor: getEnvFloat("PAYOUT_FACTOR", 1.8),

		// Clock settings
		InitialClockMs:  int64(getEnvInt("INITIAL_CLOCK_MS", 300000)), // 5 minutes per side
		MoveIncrementMs: int64(getEnvInt("MOVE_INCREMENT_MS", 2000)),

		// Queue settings
		QueueTTLMinutes:   getEnvInt("QUEUE_TTL_MINUTES", 10),
		QueueSweepSeconds: getEnvInt("QUEUE_SWEEP_SECONDS", 60),

		// Session settings
		DisconnectGraceSeconds: getEnvInt("DISCONNECT_GRACE_SECONDS", 120),
		DisconnectPollSeconds:  getEnvInt("DISCONNECT_POLL_SECONDS", 10),

		// Security
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
	}
}

// ValidWager reports whether amount is one of the configured wager tiers.
func (c *Config) ValidWager(amount float64) bool {
	for _, t := range c.WagerTiers {
		if t == amount {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvFloats(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
