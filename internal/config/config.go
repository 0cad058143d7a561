package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	SchedulerEnabled bool

	// Outbound channel (browser automation sidecar)
	BrowserSidecarURL  string
	ChannelUsername    string
	ChannelPassword    string
	ChannelCallTimeout time.Duration

	// Job coordinator
	InboxPollInterval     time.Duration
	FollowUpSweepInterval time.Duration
	FollowUpAfter         time.Duration
	FollowUpClaimTTL      time.Duration
	JobCeiling            time.Duration
	InboxFetchLimit       int
	DedupClaimTTL         time.Duration

	// Response generation
	ContextWindowTurns  int
	LLMProvider         string
	LLMFallbackProvider string
	GeminiAPIKey        string
	GeminiModelID       string
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	BedrockModelID      string
	GenerationTimeout   time.Duration

	// Event bus
	EventHistorySize      int
	EventSubscriberBuffer int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdminJWTSecret string

	// Operator notifications
	EmailProvider     string
	NotifyEmailTo     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		SchedulerEnabled: getEnvAsBool("SCHEDULER_ENABLED", true),

		BrowserSidecarURL:  getEnv("BROWSER_SIDECAR_URL", "http://localhost:3000"),
		ChannelUsername:    getEnv("CHANNEL_USERNAME", ""),
		ChannelPassword:    getEnv("CHANNEL_PASSWORD", ""),
		ChannelCallTimeout: getEnvAsDuration("CHANNEL_CALL_TIMEOUT", 45*time.Second),

		InboxPollInterval:     getEnvAsDuration("INBOX_POLL_INTERVAL", 30*time.Second),
		FollowUpSweepInterval: getEnvAsDuration("FOLLOWUP_SWEEP_INTERVAL", 30*time.Minute),
		FollowUpAfter:         time.Duration(getEnvAsInt("FOLLOWUP_AFTER_HOURS", 24)) * time.Hour,
		FollowUpClaimTTL:      getEnvAsDuration("FOLLOWUP_CLAIM_TTL", 15*time.Minute),
		JobCeiling:            getEnvAsDuration("JOB_CEILING", 5*time.Minute),
		InboxFetchLimit:       getEnvAsInt("INBOX_FETCH_LIMIT", 30),
		DedupClaimTTL:         getEnvAsDuration("DEDUP_CLAIM_TTL", 24*time.Hour),

		ContextWindowTurns:  getEnvAsInt("CONTEXT_WINDOW_TURNS", 20),
		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GenerationTimeout:   getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),

		EventHistorySize:      getEnvAsInt("EVENT_HISTORY_SIZE", 200),
		EventSubscriberBuffer: getEnvAsInt("EVENT_SUBSCRIBER_BUFFER", 100),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		NotifyEmailTo:     getEnv("NOTIFY_EMAIL_TO", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Outreach Bot"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
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
