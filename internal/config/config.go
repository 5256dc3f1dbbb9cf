package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string
	AdminToken     string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	InboundQueueURL     string
	LeadEventsQueueURL  string
	ClickTracesTable    string
	ClickTraceTTL       time.Duration

	// Correlation
	CorrelationWindow        time.Duration
	AdClickCorrelationWindow time.Duration
	PendingExpiry            time.Duration
	ExpirySweepInterval      time.Duration
	PhoneCountryCode         string
	KeywordTieBreak          string
	DirectLeadEnabled        bool
	DefaultCampaignID        string

	// HTTP surface
	WebhookVerifyToken string
	CORSAllowedOrigins []string
	TrackingRateLimit  float64
	TrackingRateBurst  int

	CampaignCacheTTL   time.Duration
	TranscriptTTL      time.Duration
	OutboxPollInterval time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),
		LeadEventsQueueURL:  getEnv("LEAD_EVENTS_QUEUE_URL", ""),
		ClickTracesTable:    getEnv("CLICK_TRACES_TABLE", ""),
		ClickTraceTTL:       getEnvAsDuration("CLICK_TRACE_TTL", 7*24*time.Hour),

		CorrelationWindow:        getEnvAsDuration("CORRELATION_WINDOW", 5*time.Minute),
		AdClickCorrelationWindow: getEnvAsDuration("AD_CLICK_CORRELATION_WINDOW", 10*time.Minute),
		PendingExpiry:            getEnvAsDuration("PENDING_EXPIRY", 24*time.Hour),
		ExpirySweepInterval:      getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		PhoneCountryCode:         getEnv("PHONE_COUNTRY_CODE", "55"),
		KeywordTieBreak:          strings.ToLower(strings.TrimSpace(getEnv("KEYWORD_TIE_BREAK", "last_match"))),
		DirectLeadEnabled:        getEnvAsBool("DIRECT_LEAD_ENABLED", false),
		DefaultCampaignID:        getEnv("DEFAULT_CAMPAIGN_ID", ""),

		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		TrackingRateLimit:  getEnvAsFloat("TRACKING_RATE_LIMIT", 5),
		TrackingRateBurst:  getEnvAsInt("TRACKING_RATE_BURST", 20),

		CampaignCacheTTL:   getEnvAsDuration("CAMPAIGN_CACHE_TTL", 5*time.Minute),
		TranscriptTTL:      getEnvAsDuration("TRANSCRIPT_TTL", 24*time.Hour),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
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

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
