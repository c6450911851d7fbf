package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is returned when the configuration fails validation at boot
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string

	// Redis / broker
	RedisURL string

	// Dispatch
	DirectMode           bool
	MaxInFlight          int
	WorkerConcurrency    int
	NodeIdentifier       string
	WebhookEventsTopic   string
	WebhookRetriesTopic  string
	WebhookBalancingTopic string
	ProducerSyncSend     bool
	ProducerSendTimeoutMs int

	// Outbound HTTP
	ConnectionTimeoutMs    int
	ReadTimeoutMs          int
	DestinationURLOverride string
	AllowInsecureTargets   bool

	// Truncation
	MaxPayloadLogLength   int
	MaxResponseLogLength  int

	// Observability
	SlowExecutionThresholdMs     int
	CriticalExecutionThresholdMs int

	// Retry scheduler
	RetrySchedulerIntervalMs int
	RetryBatchSize           int

	// Maintenance
	StuckDetectorIntervalMin int
	StuckThresholdMin        int
	StuckNextRetryOffsetMin  int
	CleanupEnabled           bool
	DeliveredRetentionDays   int
	FailedRetentionDays      int
	CancelledRetentionDays   int
	AttemptsRetentionDays    int
	CleanBatchSize           int

	// Health
	HealthMinSent        int
	HealthMinSuccessRate float64
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	environment := getEnv("ENVIRONMENT", "development")
	isProduction := environment == "production" || environment == "staging"

	databaseURL := os.Getenv("DATABASE_URL")
	if isProduction && databaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL environment variable must be set", ErrInvalidConfig)
	}

	cfg := &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: environment,
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: databaseURL,

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		// Dispatch
		DirectMode:            getEnvBool("DIRECT_MODE", false),
		MaxInFlight:           getEnvInt("MAX_IN_FLIGHT", 64),
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 10),
		NodeIdentifier:        getEnv("NODE_IDENTIFIER", hostnameOrEmpty()),
		WebhookEventsTopic:    getEnv("WEBHOOK_EVENTS_TOPIC", "webhook:events"),
		WebhookRetriesTopic:   getEnv("WEBHOOK_RETRIES_TOPIC", "webhook:retries"),
		WebhookBalancingTopic: getEnv("WEBHOOK_BALANCING_TOPIC", "webhook:balancing"),
		ProducerSyncSend:      getEnvBool("PRODUCER_SYNC_SEND", true),
		ProducerSendTimeoutMs: getEnvInt("PRODUCER_SEND_TIMEOUT_MS", 5000),

		// Outbound HTTP
		ConnectionTimeoutMs:    getEnvInt("CONNECTION_TIMEOUT_MS", 5000),
		ReadTimeoutMs:          getEnvInt("READ_TIMEOUT_MS", 10000),
		DestinationURLOverride: getEnv("DESTINATION_URL_OVERRIDE", ""),
		AllowInsecureTargets:   getEnvBool("ALLOW_INSECURE_TARGETS", !isProduction),

		// Truncation
		MaxPayloadLogLength:  getEnvInt("MAX_PAYLOAD_LOG_LENGTH", 256),
		MaxResponseLogLength: getEnvInt("MAX_RESPONSE_LOG_LENGTH", 4096),

		// Observability
		SlowExecutionThresholdMs:     getEnvInt("SLOW_EXECUTION_THRESHOLD_MS", 3000),
		CriticalExecutionThresholdMs: getEnvInt("CRITICAL_EXECUTION_THRESHOLD_MS", 10000),

		// Retry scheduler
		RetrySchedulerIntervalMs: getEnvInt("RETRY_SCHEDULER_INTERVAL_MS", 60000),
		RetryBatchSize:           getEnvInt("RETRY_BATCH_SIZE", 50),

		// Maintenance
		StuckDetectorIntervalMin: getEnvInt("STUCK_DETECTOR_INTERVAL_MIN", 15),
		StuckThresholdMin:        getEnvInt("STUCK_THRESHOLD_MIN", 30),
		StuckNextRetryOffsetMin:  getEnvInt("STUCK_NEXT_RETRY_OFFSET_MIN", 5),
		CleanupEnabled:           getEnvBool("CLEANUP_ENABLED", true),
		DeliveredRetentionDays:   getEnvInt("DELIVERED_RETENTION_DAYS", 7),
		FailedRetentionDays:      getEnvInt("FAILED_RETENTION_DAYS", 30),
		CancelledRetentionDays:   getEnvInt("CANCELLED_RETENTION_DAYS", 7),
		AttemptsRetentionDays:    getEnvInt("ATTEMPTS_RETENTION_DAYS", 30),
		CleanBatchSize:           getEnvInt("CLEAN_BATCH_SIZE", 500),

		// Health
		HealthMinSent:        getEnvInt("HEALTH_MIN_SENT", 5),
		HealthMinSuccessRate: getEnvFloat("HEALTH_MIN_SUCCESS_RATE", 80.0),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxInFlight < 1 {
		return fmt.Errorf("%w: MAX_IN_FLIGHT must be >= 1", ErrInvalidConfig)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be >= 1", ErrInvalidConfig)
	}
	if c.ConnectionTimeoutMs < 1 || c.ReadTimeoutMs < 1 {
		return fmt.Errorf("%w: HTTP timeouts must be positive", ErrInvalidConfig)
	}
	if c.RetryBatchSize < 1 {
		return fmt.Errorf("%w: RETRY_BATCH_SIZE must be >= 1", ErrInvalidConfig)
	}
	if c.HealthMinSuccessRate < 0 || c.HealthMinSuccessRate > 100 {
		return fmt.Errorf("%w: HEALTH_MIN_SUCCESS_RATE must be in [0,100]", ErrInvalidConfig)
	}
	return nil
}

func hostnameOrEmpty() string {
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}
	return hostname
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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
