package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Halaxy practice-management API
	HalaxyClientID            string
	HalaxyClientSecret        string
	HalaxyAPIURL              string
	HalaxyTokenURL            string
	HalaxyWebhookSecret       string
	HalaxyOrganizationID      string
	HalaxyPractitionerID      string
	HalaxyPractitionerRoleID  string
	HalaxyHealthcareServiceID string

	// Sync worker
	SyncInterval time.Duration
	SyncLockTTL  time.Duration

	AdminJWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	CORSAllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		HalaxyClientID:            getEnv("HALAXY_CLIENT_ID", ""),
		HalaxyClientSecret:        getEnv("HALAXY_CLIENT_SECRET", ""),
		HalaxyAPIURL:              getEnv("HALAXY_API_URL", "https://au-api.halaxy.com/main"),
		HalaxyTokenURL:            getEnv("HALAXY_TOKEN_URL", "https://au-api.halaxy.com/main/oauth/token"),
		HalaxyWebhookSecret:       getEnv("HALAXY_WEBHOOK_SECRET", ""),
		HalaxyOrganizationID:      getEnv("HALAXY_ORGANIZATION_ID", ""),
		HalaxyPractitionerID:      getEnv("HALAXY_PRACTITIONER_ID", ""),
		HalaxyPractitionerRoleID:  getEnv("HALAXY_PRACTITIONER_ROLE_ID", ""),
		HalaxyHealthcareServiceID: getEnv("HALAXY_HEALTHCARE_SERVICE_ID", ""),

		SyncInterval: getEnvAsDuration("SYNC_INTERVAL", 15*time.Minute),
		SyncLockTTL:  getEnvAsDuration("SYNC_LOCK_TTL", 10*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		// SendGrid Email Configuration
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Wattle Health"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
