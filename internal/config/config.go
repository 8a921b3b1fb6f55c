package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// Room membership bounds.
	DefaultMaxMembers = 100
	MinMaxMembers     = 2
	MaxMaxMembers     = 1000

	// Pagination clamp.
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

type Config struct {
	Port      string
	MongoURL  string
	MongoDB   string
	RedisURL  string
	JWTSecret string
	LogLevel  string

	// Messages allowed per identity per rate window.
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		MongoURL:           getEnv("MONGO_URL", "mongodb://localhost:27017"),
		MongoDB:            getEnv("MONGO_DB", "rtchat"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimitPerWindow: getEnvInt("RATE_LIMIT_MESSAGES", 30),
		RateLimitWindow:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}
}

// ClampMaxMembers keeps a caller-supplied room cap inside the allowed bounds,
// falling back to the default when unset.
func ClampMaxMembers(n int) int {
	if n == 0 {
		return DefaultMaxMembers
	}
	if n < MinMaxMembers {
		return MinMaxMembers
	}
	if n > MaxMaxMembers {
		return MaxMaxMembers
	}
	return n
}

// ClampPageLimit keeps a caller-supplied page size inside the allowed bounds.
func ClampPageLimit(n int) int {
	if n <= 0 {
		return DefaultPageLimit
	}
	if n > MaxPageLimit {
		return MaxPageLimit
	}
	return n
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
