package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig
	// Database configuration
	Database DatabaseConfig
	// JWT configuration
	JWT JWTConfig
	// CORS configuration
	CORS CORSConfig
	// Hold manager configuration
	Hold HoldConfig
	// Payment provider configuration
	Payment PaymentConfig
	// Reconciliation and sweep configuration
	Reconciliation ReconciliationConfig
	// Redis configuration (sweep leader lock)
	Redis RedisConfig
	// Notification dispatcher configuration
	Notification NotificationConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port             string
	Environment      string // development, staging, production
	LogLevel         string // debug, info, warn, error
	EnableRequestLog bool
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// HoldConfig controls hold lifetimes and the booking cutoff
type HoldConfig struct {
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	CutoffWindow   time.Duration // holds are only issued while now < slot start - cutoff
	ExpiryBatch    int
	ExpirySchedule string // cron spec with seconds field
}

// PaymentConfig holds checkout provider configuration
type PaymentConfig struct {
	BaseURL          string
	SecretKey        string // SECRET - never expose to client
	WebhookSecret    string // SECRET - used to verify Payment-Signature
	SuccessURL       string
	CancelURL        string
	Timeout          time.Duration
	WebhookTolerance time.Duration
	BreakerThreshold int64 // consecutive failures before the breaker opens
}

// ReconciliationConfig controls payment failure windows and the stale sweep
type ReconciliationConfig struct {
	FailureWindow         time.Duration // unpaid sessions older than this are failed on reconcile
	StaleThreshold        time.Duration // pending bookings older than this are swept
	SweepBatch            int
	SweepSchedule         string
	GrantBackfillSchedule string
}

// RedisConfig holds the sweep lock backend. Empty Addr disables locking.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// NotificationConfig selects and configures notification channels
type NotificationConfig struct {
	Channels     []string // any of: log, amqp, sms
	AMQPURL      string
	AMQPExchange string
	SMSAPIURL    string
	SMSAPIKey    string
	SMSSenderID  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:             getEnv("PORT", "8080"),
			Environment:      getEnv("ENVIRONMENT", "development"),
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "mariiahub-booking"),
			AccessTokenExpiry: getEnvAsDuration("JWT_ACCESS_TOKEN_EXPIRY", time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID"}),
		},
		Hold: HoldConfig{
			DefaultTTL:     getEnvAsDuration("HOLD_DEFAULT_TTL", 10*time.Minute),
			MaxTTL:         getEnvAsDuration("HOLD_MAX_TTL", 30*time.Minute),
			CutoffWindow:   getEnvAsDuration("HOLD_CUTOFF_WINDOW", time.Hour),
			ExpiryBatch:    getEnvAsInt("HOLD_EXPIRY_BATCH", 500),
			ExpirySchedule: getEnv("HOLD_EXPIRY_SCHEDULE", "0 * * * * *"), // every minute
		},
		Payment: PaymentConfig{
			BaseURL:          getEnv("PAYMENT_BASE_URL", "https://api.checkout-provider.example"),
			SecretKey:        getEnv("PAYMENT_SECRET_KEY", ""),
			WebhookSecret:    getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			SuccessURL:       getEnv("PAYMENT_SUCCESS_URL", ""),
			CancelURL:        getEnv("PAYMENT_CANCEL_URL", ""),
			Timeout:          getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
			WebhookTolerance: getEnvAsDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
			BreakerThreshold: int64(getEnvAsInt("PAYMENT_BREAKER_THRESHOLD", 5)),
		},
		Reconciliation: ReconciliationConfig{
			FailureWindow:         getEnvAsDuration("PAYMENT_FAILURE_WINDOW", 30*time.Minute),
			StaleThreshold:        getEnvAsDuration("STALE_PAYMENT_THRESHOLD", time.Hour),
			SweepBatch:            getEnvAsInt("STALE_PAYMENT_BATCH", 100),
			SweepSchedule:         getEnv("STALE_PAYMENT_SCHEDULE", "30 */5 * * * *"), // every 5 minutes
			GrantBackfillSchedule: getEnv("GRANT_BACKFILL_SCHEDULE", "0 15 * * * *"),  // hourly
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("SWEEP_LOCK_TTL", 2*time.Minute),
		},
		Notification: NotificationConfig{
			Channels:     getEnvAsSlice("NOTIFY_CHANNELS", []string{"log"}),
			AMQPURL:      getEnv("AMQP_URL", ""),
			AMQPExchange: getEnv("AMQP_EXCHANGE", "booking.events"),
			SMSAPIURL:    getEnv("SMS_API_URL", ""),
			SMSAPIKey:    getEnv("SMS_API_KEY", ""),
			SMSSenderID:  getEnv("SMS_SENDER_ID", "MariiaHub"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Payment.SecretKey == "" {
		return fmt.Errorf("PAYMENT_SECRET_KEY is required")
	}
	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}

	durations := map[string]time.Duration{
		"HOLD_DEFAULT_TTL":        c.Hold.DefaultTTL,
		"HOLD_MAX_TTL":            c.Hold.MaxTTL,
		"PAYMENT_TIMEOUT":         c.Payment.Timeout,
		"PAYMENT_FAILURE_WINDOW":  c.Reconciliation.FailureWindow,
		"STALE_PAYMENT_THRESHOLD": c.Reconciliation.StaleThreshold,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Hold.DefaultTTL > c.Hold.MaxTTL {
		return fmt.Errorf("HOLD_DEFAULT_TTL must not exceed HOLD_MAX_TTL")
	}
	// A checkout session lives as long as its hold
	if c.Reconciliation.FailureWindow < c.Hold.MaxTTL {
		return fmt.Errorf("PAYMENT_FAILURE_WINDOW must be at least HOLD_MAX_TTL")
	}
	if c.Hold.CutoffWindow < 0 {
		return fmt.Errorf("HOLD_CUTOFF_WINDOW must not be negative")
	}

	for _, ch := range c.Notification.Channels {
		switch ch {
		case "log":
		case "amqp":
			if c.Notification.AMQPURL == "" {
				return fmt.Errorf("AMQP_URL is required when NOTIFY_CHANNELS includes amqp")
			}
		case "sms":
			if c.Notification.SMSAPIURL == "" || c.Notification.SMSAPIKey == "" {
				return fmt.Errorf("SMS_API_URL and SMS_API_KEY are required when NOTIFY_CHANNELS includes sms")
			}
		default:
			return fmt.Errorf("invalid notification channel: %s (must be 'log', 'amqp' or 'sms')", ch)
		}
	}

	return nil
}

// Helper functions to get environment variables
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go durations ("90s", "15m") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// RedisEnabled reports whether a Redis address was configured
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// UsesChannel reports whether the named notification channel is enabled
func (c *Config) UsesChannel(name string) bool {
	for _, ch := range c.Notification.Channels {
		if ch == name {
			return true
		}
	}
	return false
}
