package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendSQL      = "sql"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// ServerConfig captures all tunable parameters for the notifier process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Backend string

	SQLDriver     string
	PGDSN         string
	SQLitePath    string
	RunMigrations bool

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr      string
	RedisPassword  string
	RedisChannel   string
	RedisKeyPrefix string

	DynamoDBTable string

	PushEndpoint string
	PushKey      string
	PushToken    string

	SESSender    string
	SESRecipient string

	NotifyChannelID   string
	NotifyChannelName string
	NotifyQueueSize   int

	RefreshInterval time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		Backend:           BackendMemory,
		SQLDriver:         "postgres",
		KafkaTopic:        "ride-events",
		RedisChannel:      "ride-events",
		RedisKeyPrefix:    "ride:",
		DynamoDBTable:     "rides",
		NotifyChannelID:   "ride-requests",
		NotifyChannelName: "Ride requests",
		NotifyQueueSize:   64,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if v := os.Getenv("FEED_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}

	setStringFromEnv(&cfg.SQLDriver, "SQL_DRIVER")
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisChannel, "REDIS_CHANNEL")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	setStringFromEnv(&cfg.DynamoDBTable, "DYNAMODB_TABLE")

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")
	setStringFromEnv(&cfg.PushToken, "PUSH_TOKEN")
	setStringFromEnv(&cfg.SESSender, "SES_SENDER")
	setStringFromEnv(&cfg.SESRecipient, "SES_RECIPIENT")

	setStringFromEnv(&cfg.NotifyChannelID, "NOTIFY_CHANNEL_ID")
	setStringFromEnv(&cfg.NotifyChannelName, "NOTIFY_CHANNEL_NAME")
	setIntFromEnv(&cfg.NotifyQueueSize, "NOTIFY_QUEUE_SIZE", &errs)

	setDurationFromEnv(&cfg.RefreshInterval, "REFRESH_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.Validate()...)
	return cfg, errors.Join(errs...)
}

// Validate reports every inconsistency in cfg.
func (cfg ServerConfig) Validate() []error {
	var errs []error
	switch cfg.Backend {
	case BackendMemory:
	case BackendSQL:
		switch cfg.SQLDriver {
		case "postgres":
			if cfg.PGDSN == "" {
				errs = append(errs, fmt.Errorf("PG_DSN is required for the postgres driver"))
			}
		case "sqlite3":
			if cfg.SQLitePath == "" {
				errs = append(errs, fmt.Errorf("SQLITE_PATH is required for the sqlite3 driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown SQL_DRIVER %q", cfg.SQLDriver))
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for the redis backend"))
		}
	case BackendDynamoDB:
		if cfg.DynamoDBTable == "" {
			errs = append(errs, fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FEED_BACKEND %q", cfg.Backend))
	}
	if (cfg.Backend == BackendSQL || cfg.Backend == BackendDynamoDB) && len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for the %s backend", cfg.Backend))
	}
	if cfg.NotifyQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE_SIZE must be > 0"))
	}
	if cfg.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be >= 0"))
	}
	return errs
}

// DSN returns the data source for the configured SQL driver.
func (cfg ServerConfig) DSN() string {
	if cfg.SQLDriver == "sqlite3" {
		return cfg.SQLitePath
	}
	return cfg.PGDSN
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
