package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "ride-events", cfg.KafkaTopic)
	assert.Equal(t, 64, cfg.NotifyQueueSize)
	assert.Zero(t, cfg.RefreshInterval)
}

func TestLoadServerConfig_SQLiteBackend(t *testing.T) {
	t.Setenv("FEED_BACKEND", "SQL")
	t.Setenv("SQL_DRIVER", "sqlite3")
	t.Setenv("SQLITE_PATH", "/tmp/rides.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("REFRESH_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendSQL, cfg.Backend)
	assert.Equal(t, "/tmp/rides.db", cfg.DSN())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfig_CollectsAllErrors(t *testing.T) {
	t.Setenv("FEED_BACKEND", "dynamodb")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("NOTIFY_QUEUE_SIZE", "many")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "invalid NOTIFY_QUEUE_SIZE")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS is required")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServerConfig)
		want   string
	}{
		{"unknown backend", func(c *ServerConfig) { c.Backend = "etcd" }, "unknown FEED_BACKEND"},
		{"postgres without dsn", func(c *ServerConfig) { c.Backend = BackendSQL; c.KafkaBrokers = []string{"k"} }, "PG_DSN is required"},
		{"unknown driver", func(c *ServerConfig) { c.Backend = BackendSQL; c.SQLDriver = "mysql"; c.KafkaBrokers = []string{"k"} }, "unknown SQL_DRIVER"},
		{"redis without addr", func(c *ServerConfig) { c.Backend = BackendRedis }, "REDIS_ADDR is required"},
		{"dynamodb without table", func(c *ServerConfig) {
			c.Backend = BackendDynamoDB
			c.DynamoDBTable = ""
			c.KafkaBrokers = []string{"k"}
		}, "DYNAMODB_TABLE is required"},
		{"negative refresh", func(c *ServerConfig) { c.RefreshInterval = -time.Second }, "REFRESH_INTERVAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultServerConfig()
			tc.mutate(&cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tc.want)
		})
	}

	cfg := defaultServerConfig()
	cfg.Backend = BackendRedis
	cfg.RedisAddr = "localhost:6379"
	assert.Empty(t, cfg.Validate())
}
