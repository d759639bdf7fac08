// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Security
	JWTSecret     string
	EncryptionKey string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string

	// Sync
	DefaultTimeZone  string
	SyncWindowPast   time.Duration
	SyncWindowFuture time.Duration
	SyncTimeout      time.Duration
	WatchCallbackURL string

	// Scheduler
	SchedulerEnabled   bool
	SyncCronSpec       string
	WatchRenewCronSpec string

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// Missing .env is fine; containers inject real environment.
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "calsync"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Security
		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Sync
		DefaultTimeZone:  getEnv("DEFAULT_TIME_ZONE", "UTC"),
		SyncWindowPast:   time.Duration(getEnvInt("SYNC_WINDOW_PAST_DAYS", 30)) * 24 * time.Hour,
		SyncWindowFuture: time.Duration(getEnvInt("SYNC_WINDOW_FUTURE_DAYS", 365)) * 24 * time.Hour,
		SyncTimeout:      time.Duration(getEnvInt("SYNC_TIMEOUT_SEC", 120)) * time.Second,
		WatchCallbackURL: getEnv("WATCH_CALLBACK_URL", ""),

		// Scheduler
		SchedulerEnabled:   getEnvBool("SCHEDULER_ENABLED", true),
		SyncCronSpec:       getEnv("SYNC_CRON_SPEC", "@every 15m"),
		WatchRenewCronSpec: getEnv("WATCH_RENEW_CRON_SPEC", "@every 1h"),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
