package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	// PlatformApplicationArn is the SNS platform application endpoints belong to.
	PlatformApplicationArn string
	// PushPlatform selects the vendor key of the SNS envelope: APNS, APNS_SANDBOX or GCM.
	PushPlatform string
	QueueURL     string

	ReminderLeadTime  time.Duration
	ReminderInterval  time.Duration
	ReconcileInterval time.Duration
	QueueWaitSeconds  int32
	QueueBatchSize    int32

	PublishRatePerSecond  float64
	PublishBurst          int
	// PublishBreakerTimeout is how long the publish breaker stays open before probing.
	PublishBreakerTimeout time.Duration
	DisplayTimezone       string

	RegisterRatePerSecond float64
	RegisterBurst         int

	ReconcileReportBucket string

	LogLevel  string
	LogFormat string
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Endpoints   string
	Preferences string
	History     string
	Events      string
	Bookmarks   string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Endpoints:   getEnv("DYNAMO_TABLE_ENDPOINTS", "device_endpoints"),
			Preferences: getEnv("DYNAMO_TABLE_PREFERENCES", "notification_preferences"),
			History:     getEnv("DYNAMO_TABLE_HISTORY", "notification_history"),
			Events:      getEnv("DYNAMO_TABLE_EVENTS", "events"),
			Bookmarks:   getEnv("DYNAMO_TABLE_BOOKMARKS", "bookmarks"),
		},
		PlatformApplicationArn: getEnv("SNS_PLATFORM_APPLICATION_ARN", ""),
		PushPlatform:           strings.ToUpper(getEnv("SNS_PUSH_PLATFORM", "APNS")),
		QueueURL:               getEnv("NOTIFICATION_QUEUE_URL", ""),
		ReminderLeadTime:       getEnvDuration("REMINDER_LEAD_TIME", time.Hour),
		ReminderInterval:       getEnvDuration("REMINDER_INTERVAL", 5*time.Minute),
		ReconcileInterval:      getEnvDuration("RECONCILE_INTERVAL", 24*time.Hour),
		QueueWaitSeconds:       int32(getEnvInt("QUEUE_WAIT_SECONDS", 20)),
		QueueBatchSize:         int32(getEnvInt("QUEUE_BATCH_SIZE", 10)),
		PublishRatePerSecond:   getEnvFloat("PUBLISH_RATE_PER_SECOND", 20),
		PublishBurst:           getEnvInt("PUBLISH_BURST", 20),
		PublishBreakerTimeout:  getEnvDuration("PUBLISH_BREAKER_TIMEOUT", 30*time.Second),
		RegisterRatePerSecond:  getEnvFloat("REGISTER_RATE_PER_SECOND", 5),
		RegisterBurst:          getEnvInt("REGISTER_BURST", 10),
		DisplayTimezone:        getEnv("DISPLAY_TIMEZONE", "UTC"),
		ReconcileReportBucket:  getEnv("RECONCILE_REPORT_BUCKET", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.PlatformApplicationArn == "" {
		errs = append(errs, errors.New("SNS_PLATFORM_APPLICATION_ARN is required"))
	}
	if c.QueueURL == "" {
		errs = append(errs, errors.New("NOTIFICATION_QUEUE_URL is required"))
	}
	switch c.PushPlatform {
	case "APNS", "APNS_SANDBOX", "GCM":
	default:
		errs = append(errs, fmt.Errorf("SNS_PUSH_PLATFORM %q is not one of APNS, APNS_SANDBOX, GCM", c.PushPlatform))
	}
	if c.ReminderLeadTime <= 0 {
		errs = append(errs, errors.New("REMINDER_LEAD_TIME must be positive"))
	}
	if c.QueueBatchSize < 1 || c.QueueBatchSize > 10 {
		errs = append(errs, errors.New("QUEUE_BATCH_SIZE must be between 1 and 10"))
	}
	if c.PublishRatePerSecond <= 0 || c.PublishBurst < 1 {
		errs = append(errs, errors.New("PUBLISH_RATE_PER_SECOND and PUBLISH_BURST must be positive"))
	}
	if c.RegisterRatePerSecond <= 0 || c.RegisterBurst < 1 {
		errs = append(errs, errors.New("REGISTER_RATE_PER_SECOND and REGISTER_BURST must be positive"))
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the time zone notification texts are rendered in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
