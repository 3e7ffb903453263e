package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Conversation state persistence: "redis", "postgres", "dynamodb" or "memory".
	StateStore     string
	CallStateTable string
	CallStateTTL   time.Duration

	// HoldTTL is how long an upstream slot hold stays valid before a fresh hold is required.
	HoldTTL time.Duration

	// NexHealth scheduling API
	NexHealthBaseURL string
	NexHealthAPIKey  string
	NexHealthTimeout time.Duration

	// Language model used for intent and slot matching.
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Inbound webhook protection
	VapiWebhookSecret string
	AdminJWTSecret    string
	DefaultPracticeID string
	// PracticeConfigFile serves practice configuration from a JSON file instead of Postgres.
	PracticeConfigFile string
	WebhookRateLimit   float64
	WebhookRateBurst   int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Booking notifications and audit
	NotificationQueueURL string
	BookingArchiveBucket string
	EmailProvider        string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		StateStore:     strings.ToLower(strings.TrimSpace(getEnv("STATE_STORE", "redis"))),
		CallStateTable: getEnv("CALL_STATE_TABLE", "call_states"),
		CallStateTTL:   getEnvAsDuration("CALL_STATE_TTL", 7*24*time.Hour),

		HoldTTL: getEnvAsDuration("HOLD_TTL", 10*time.Minute),

		NexHealthBaseURL: getEnv("NEXHEALTH_BASE_URL", "https://nexhealth.info"),
		NexHealthAPIKey:  getEnv("NEXHEALTH_API_KEY", ""),
		NexHealthTimeout: getEnvAsDuration("NEXHEALTH_TIMEOUT", 15*time.Second),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		VapiWebhookSecret:  getEnv("VAPI_WEBHOOK_SECRET", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		DefaultPracticeID:  getEnv("DEFAULT_PRACTICE_ID", ""),
		PracticeConfigFile: getEnv("PRACTICE_CONFIG_FILE", ""),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		BookingArchiveBucket: getEnv("BOOKING_ARCHIVE_BUCKET", ""),
		EmailProvider:        strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Dental Scheduling"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// IsDevelopment reports whether the service runs in a local development environment.
func (c *Config) IsDevelopment() bool {
	return c != nil && (c.Env == "development" || c.Env == "dev" || c.Env == "local")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
