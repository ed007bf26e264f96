package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
postgres:
  dsn: "host=db user=orders dbname=orders"
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: "order-notifications"
  dead_letter_topic: "order-notifications-dlq"
dispatcher:
  sync: true
  batch_size: 25
  retry:
    attempts: 5
    base: 50ms
`
	assert.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Dispatcher.Sync)
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5, cfg.Dispatcher.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatcher.Retry.Base.Std())

	// unset values fall back to defaults
	assert.Equal(t, time.Second, cfg.Dispatcher.PollInterval.Std())
	assert.Equal(t, 24*time.Hour, cfg.Dispatcher.FeedRetention.Std())
	assert.Equal(t, time.Hour, cfg.Dispatcher.DedupTTL.Std())
	assert.Equal(t, time.Hour, cfg.Invoice.TTL.Std())
}

func TestLoad_PasswordOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(`postgres: {dsn: "host=db user=orders"}`), 0o600))

	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "host=db user=orders password=s3cret", cfg.Postgres.DSN)
}
