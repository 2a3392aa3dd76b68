package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Redis (shared matchmaking store)
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// Shared secret for trusted internal callers
	ServiceSecret string

	// Collaborators
	QuestionServiceURL  string
	HistoryServiceURL   string
	CollaboratorTimeout time.Duration

	// Matchmaking
	MatchWaitBound time.Duration

	// Sessions
	SessionGracePeriod time.Duration

	// CORS
	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env if present
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:           getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:       parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		ServiceSecret:       getEnv("SERVICE_SECRET", ""),
		QuestionServiceURL:  getEnv("QUESTION_SERVICE_URL", "http://localhost:8081"),
		HistoryServiceURL:   getEnv("HISTORY_SERVICE_URL", "http://localhost:8082"),
		CollaboratorTimeout: parseDuration(getEnv("COLLABORATOR_TIMEOUT", "2s"), 2*time.Second),
		MatchWaitBound:      parseDuration(getEnv("MATCH_WAIT_BOUND", "60s"), 60*time.Second),
		SessionGracePeriod:  parseDuration(getEnv("SESSION_GRACE_PERIOD", "5m"), 5*time.Minute),
		CORSAllowedOrigins:  splitEnv(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitEnv(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
