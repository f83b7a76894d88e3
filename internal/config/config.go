package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string
	ServerPort  string
	BaseURL     string
	FrontendURL string

	// Extraction provider
	OpenAIKey          string
	ExtractionProvider string
	ExtractionModel    string
	ExtractionBaseURL  string

	// Authentication
	JWKSURL   string
	JWTIssuer string

	// Infrastructure
	RedisURL         string
	RabbitMQURL      string
	RabbitMQPrefetch int

	// Evaluation rate limiting
	RateLimitStore    string // "memory" or "redis"
	ManualEvalLimit   int
	ManualEvalWindow  time.Duration
	RefreshInterval   time.Duration
	SchedulerInterval time.Duration
	ScrapeTimeout     time.Duration
	ExtractionTimeout time.Duration
	DLQRetention      time.Duration
	DLQSweepInterval  time.Duration

	// Notifications
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	EnableHSTS      bool
	WorkerDebugMode bool
	ServerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		ExtractionProvider: getEnv("EXTRACTION_PROVIDER", "openai"),
		ExtractionModel:    getEnv("EXTRACTION_MODEL", ""),
		ExtractionBaseURL:  getEnv("EXTRACTION_BASE_URL", ""),

		JWKSURL:   getEnv("JWKS_URL", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 1),

		RateLimitStore:    getEnv("RATELIMIT_STORE", "redis"),
		ManualEvalLimit:   getEnvInt("MANUAL_EVAL_LIMIT", 50),
		ManualEvalWindow:  getEnvDuration("MANUAL_EVAL_WINDOW", 24*time.Hour),
		RefreshInterval:   getEnvDuration("MONITOR_REFRESH_INTERVAL", 5*time.Minute),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		ScrapeTimeout:     getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
		ExtractionTimeout: getEnvDuration("EXTRACTION_TIMEOUT", 60*time.Second),
		DLQRetention:      getEnvDuration("DLQ_RETENTION", 7*24*time.Hour),
		DLQSweepInterval:  getEnvDuration("DLQ_SWEEP_INTERVAL", time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@monitorhub.io"),

		EnableHSTS:      getEnvBool("ENABLE_HSTS", false),
		WorkerDebugMode: getEnvBool("WORKER_DEBUG_MODE", false),
		ServerDebugMode: getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for job queueing (scheduled evaluations require RabbitMQ)")
	}

	if cfg.RateLimitStore != "memory" && cfg.RateLimitStore != "redis" {
		return nil, fmt.Errorf("RATELIMIT_STORE must be 'memory' or 'redis', got %q", cfg.RateLimitStore)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
