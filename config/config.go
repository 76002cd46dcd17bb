package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,PATCH,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Graceful shutdown budget
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	// Timezone used for calendar days, deadlines and the notification window
	Timezone string `env:"TIMEZONE" env-default:"Local"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	// Run migrations on serve
	DatabaseMigrateOnStart bool `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Auth Enabled - when false, X-User-ID and X-User-Name headers identify the caller
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix for every fern key
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"fern:"`

	// Kafka enabled - domain events and the kafka notification channel need it
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Topic for plan domain events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"fern.plan-events"`
	// Topic for outbound notifications
	KafkaNotificationsTopic string `env:"KAFKA_NOTIFICATIONS_TOPIC" env-default:"fern.notifications"`

	// Plan edit lock inactivity TTL
	LockTTL time.Duration `env:"LOCK_TTL" env-default:"15m"`

	// Scheduler settings
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Distributed lock TTL for one task run
	SchedulerLockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"5m"`
	// Same-day reminder scan interval
	SameDayReminderInterval time.Duration `env:"SCHEDULER_SAME_DAY_REMINDER_INTERVAL" env-default:"10m"`
	// Daily deadline check interval
	DailyDeadlineInterval time.Duration `env:"SCHEDULER_DAILY_DEADLINE_INTERVAL" env-default:"1h"`
	// Week-ahead warning interval
	WeekAheadInterval time.Duration `env:"SCHEDULER_WEEK_AHEAD_INTERVAL" env-default:"1h"`
	// Status reconciliation sweep interval
	ReconcileInterval time.Duration `env:"SCHEDULER_RECONCILE_INTERVAL" env-default:"1h"`

	// Notification settings
	// webhook, kafka or log
	NotificationChannel string `env:"NOTIFICATION_CHANNEL" env-default:"log"`
	// Webhook URL for the webhook channel
	NotificationWebhookURL string `env:"NOTIFICATION_WEBHOOK_URL" env-default:""`
	// Webhook request timeout
	NotificationWebhookTimeout time.Duration `env:"NOTIFICATION_WEBHOOK_TIMEOUT" env-default:"10s"`
	// redis or postgres
	NotificationMarkerStore string `env:"NOTIFICATION_MARKER_STORE" env-default:"redis"`
	// How long a sent marker is kept
	NotificationMarkerRetention time.Duration `env:"NOTIFICATION_MARKER_RETENTION" env-default:"192h"`
	// How long a pending claim blocks other senders
	NotificationClaimTTL time.Duration `env:"NOTIFICATION_CLAIM_TTL" env-default:"10m"`
	// Local hour the same-day reminder window opens
	NotifyDeadlineHour int `env:"NOTIFY_DEADLINE_HOUR" env-default:"9"`
	// Same-day reminder window length
	NotifyDeadlineWindow time.Duration `env:"NOTIFY_DEADLINE_WINDOW" env-default:"1h"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate catches combinations that would only fail later at runtime.
func (c *Config) Validate() error {
	switch c.NotificationChannel {
	case "log", "kafka", "webhook":
	default:
		return fmt.Errorf("NOTIFICATION_CHANNEL must be webhook, kafka or log, got %q", c.NotificationChannel)
	}
	if c.NotificationChannel == "webhook" && c.NotificationWebhookURL == "" {
		return fmt.Errorf("NOTIFICATION_WEBHOOK_URL is required for the webhook channel")
	}
	if c.NotificationChannel == "kafka" && !c.KafkaEnabled {
		return fmt.Errorf("KAFKA_ENABLED must be true for the kafka notification channel")
	}
	switch c.NotificationMarkerStore {
	case "redis", "postgres":
	default:
		return fmt.Errorf("NOTIFICATION_MARKER_STORE must be redis or postgres, got %q", c.NotificationMarkerStore)
	}
	if c.NotifyDeadlineHour < 0 || c.NotifyDeadlineHour > 23 {
		return fmt.Errorf("NOTIFY_DEADLINE_HOUR must be between 0 and 23, got %d", c.NotifyDeadlineHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
