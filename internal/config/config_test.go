package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://app.example.com"]

database:
  url: "postgres://localhost/messaging"

messaging:
  enabled: true
  min_send_interval_seconds: 30
  block_threshold: "any"
  max_recipients: 50
  link_denylist: ["localhost", "*.corp"]

storage:
  driver: "s3"
  s3_bucket: "msg-attachments"
  aws_region: "eu-west-1"
  orphan_ledger_table: "messaging-orphans"

notify:
  redis_queue: "messaging:events"
  kafka_brokers: ["k1:9092", "k2:9092"]

auth:
  enabled: true
  admin_emails: ["root@example.com"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "postgres://localhost/messaging", cfg.Database.URL)

	assert.True(t, cfg.Messaging.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Messaging.MinSendInterval())
	assert.Equal(t, "any", cfg.Messaging.BlockThreshold)
	assert.Equal(t, 50, cfg.Messaging.MaxRecipients)
	assert.Equal(t, []string{"localhost", "*.corp"}, cfg.Messaging.LinkDenylist)

	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "msg-attachments", cfg.Storage.S3Bucket)
	assert.Equal(t, "messaging-orphans", cfg.Storage.OrphanLedgerTable)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, "eu-west-1", cfg.Notify.SES.Region)
	assert.Equal(t, []string{"root@example.com"}, cfg.Auth.AdminEmails)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("messaging:\n  enabled: true\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Messaging.MinSendInterval())
	assert.Equal(t, "all", cfg.Messaging.BlockThreshold)
	assert.Equal(t, 10*time.Second, cfg.Messaging.BlobTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Messaging.IdempotencyTTL())
	assert.Contains(t, cfg.Messaging.LinkDenylist, "localhost")
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "messaging.events", cfg.Notify.KafkaTopic)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout())
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("messaging: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/0")
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("MESSAGING_MIN_SEND_INTERVAL_SECONDS", "3")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://env:6379/0", cfg.Redis.URL)
	assert.False(t, cfg.Messaging.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Messaging.MinSendInterval())
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Notify.KafkaBrokers)
}

func TestStorageConfig_GetAWSProfile(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	c := StorageConfig{AWSProfile: "dev"}
	assert.Equal(t, "dev", c.GetAWSProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "ops")
	assert.Equal(t, "ops", c.GetAWSProfile())
}
