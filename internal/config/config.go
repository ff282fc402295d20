package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Messaging MessagingConfig `yaml:"messaging"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// DevMode trusts X-Auth-* headers instead of OAuth sessions.
	DevMode bool `yaml:"dev_mode"`
	// Per-caller ingress throttle, independent of the send interval.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL settings. An empty URL runs the engine on
// the in-memory store.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection used for rate limiting, locks,
// idempotency keys, the runtime kill-switch and the event queue.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// MessagingConfig holds the engine's policy values.
type MessagingConfig struct {
	Enabled bool `yaml:"enabled"`
	// MinSendIntervalSeconds is the minimum gap between two accepted sends
	// from the same sender.
	MinSendIntervalSeconds int `yaml:"min_send_interval_seconds"`
	// BlockThreshold is "all" (reject only when every recipient blocked the
	// sender) or "any" (reject when at least one did).
	BlockThreshold       string   `yaml:"block_threshold"`
	MaxRecipients        int      `yaml:"max_recipients"`
	MaxBulkItems         int      `yaml:"max_bulk_items"`
	MaxAttachmentBytes   int64    `yaml:"max_attachment_bytes"`
	BlobTimeoutSeconds   int      `yaml:"blob_timeout_seconds"`
	LinkDenylist         []string `yaml:"link_denylist"`
	UnfurlLinks          bool     `yaml:"unfurl_links"`
	UnfurlTimeoutSeconds int      `yaml:"unfurl_timeout_seconds"`
	IdempotencyTTLHours  int      `yaml:"idempotency_ttl_hours"`
}

// MinSendInterval returns the configured interval as a duration.
func (c MessagingConfig) MinSendInterval() time.Duration {
	return time.Duration(c.MinSendIntervalSeconds) * time.Second
}

// BlobTimeout bounds every blob-store call.
func (c MessagingConfig) BlobTimeout() time.Duration {
	return time.Duration(c.BlobTimeoutSeconds) * time.Second
}

// UnfurlTimeout bounds link preview fetches.
func (c MessagingConfig) UnfurlTimeout() time.Duration {
	return time.Duration(c.UnfurlTimeoutSeconds) * time.Second
}

// IdempotencyTTL is how long a client-supplied idempotency key is remembered.
func (c MessagingConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Driver         string `yaml:"driver"` // "s3", "local" or "memory"
	S3Bucket       string `yaml:"s3_bucket"`
	AWSRegion      string `yaml:"aws_region"`
	AWSProfile     string `yaml:"aws_profile"`
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	LocalPath      string `yaml:"local_path"`
	KeyPrefix      string `yaml:"key_prefix"`
	// OrphanLedgerTable is the DynamoDB table recording blobs whose delete
	// failed. Empty disables the ledger (failures are only logged).
	OrphanLedgerTable string `yaml:"orphan_ledger_table"`
	// CloudFrontDistributionID, when set, is invalidated for reclaimed keys.
	CloudFrontDistributionID string `yaml:"cloudfront_distribution_id"`
}

// GetAWSProfile returns the AWS profile to use, with ECS detection
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		return envProfile
	}
	// On ECS the task role supplies credentials
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// NotifyConfig configures the fire-and-forget event sinks.
type NotifyConfig struct {
	RedisQueue     string    `yaml:"redis_queue"`
	KafkaBrokers   []string  `yaml:"kafka_brokers"`
	KafkaTopic     string    `yaml:"kafka_topic"`
	SES            SESConfig `yaml:"ses"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
}

// Timeout bounds a single sink delivery.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds the new-message e-mail notification settings.
type SESConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Region      string `yaml:"region"`
	FromAddress string `yaml:"from_address"`
	AppBaseURL  string `yaml:"app_base_url"`
}

// AuthConfig holds Google OAuth authentication configuration
type AuthConfig struct {
	Enabled            bool     `yaml:"enabled"`
	GoogleClientID     string   `yaml:"google_client_id"`
	GoogleClientSecret string   `yaml:"google_client_secret"`
	AllowedDomain      string   `yaml:"allowed_domain"`
	BaseURL            string   `yaml:"base_url"`
	CookieName         string   `yaml:"cookie_name"`
	CookieMaxAge       int      `yaml:"cookie_max_age"`
	AdminEmails        []string `yaml:"admin_emails"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.RequestsPerSecond == 0 {
		cfg.Server.RequestsPerSecond = 20
	}
	if cfg.Server.RequestBurst == 0 {
		cfg.Server.RequestBurst = 40
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Messaging.MinSendIntervalSeconds == 0 {
		cfg.Messaging.MinSendIntervalSeconds = 10
	}
	if cfg.Messaging.BlockThreshold == "" {
		cfg.Messaging.BlockThreshold = "all"
	}
	if cfg.Messaging.MaxRecipients == 0 {
		cfg.Messaging.MaxRecipients = 500
	}
	if cfg.Messaging.MaxBulkItems == 0 {
		cfg.Messaging.MaxBulkItems = 1000
	}
	if cfg.Messaging.MaxAttachmentBytes == 0 {
		cfg.Messaging.MaxAttachmentBytes = 25 << 20
	}
	if cfg.Messaging.BlobTimeoutSeconds == 0 {
		cfg.Messaging.BlobTimeoutSeconds = 10
	}
	if len(cfg.Messaging.LinkDenylist) == 0 {
		cfg.Messaging.LinkDenylist = []string{"localhost", "127.0.0.1", "0.0.0.0", "::1", "*.local", "*.internal"}
	}
	if cfg.Messaging.UnfurlTimeoutSeconds == 0 {
		cfg.Messaging.UnfurlTimeoutSeconds = 3
	}
	if cfg.Messaging.IdempotencyTTLHours == 0 {
		cfg.Messaging.IdempotencyTTLHours = 24
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data/blobs"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = 5
	}
	if cfg.Notify.KafkaTopic == "" {
		cfg.Notify.KafkaTopic = "messaging.events"
	}
	if cfg.Notify.SES.Region == "" {
		cfg.Notify.SES.Region = cfg.Storage.AWSRegion
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "messaging_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A missing config file is not an error: defaults plus environment apply.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = &Config{Messaging: MessagingConfig{Enabled: true}}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MESSAGING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Messaging.Enabled = b
		}
	}
	if v := os.Getenv("MESSAGING_MIN_SEND_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Messaging.MinSendIntervalSeconds = n
		}
	}
	if v := os.Getenv("BLOB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("AUTH_BASE_URL"); v != "" {
		cfg.Auth.BaseURL = v
	}
	if os.Getenv("DEV_MODE") == "true" || os.Getenv("ENVIRONMENT") == "development" {
		cfg.Server.DevMode = true
	}

	return cfg, nil
}
