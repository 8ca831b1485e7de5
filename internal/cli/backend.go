package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"

	"github.com/example/ride-notifier/internal/config"
	"github.com/example/ride-notifier/internal/dispatch"
	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/ingest"
	"github.com/example/ride-notifier/internal/storage"
)

// backend is the remote feed selected by FEED_BACKEND plus whatever must
// be released on shutdown.
type backend struct {
	feed    feed.Feed
	creator feed.Creator
	ping    func(ctx context.Context) error
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// kafkaGroup returns the configured consumer group, or a fresh one so
// every notifier instance receives every event.
func kafkaGroup(cfg config.ServerConfig, prefix string) string {
	if cfg.KafkaGroup != "" {
		return cfg.KafkaGroup
	}
	return prefix + uuid.NewString()
}

func openBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*backend, error) {
	b := &backend{ping: func(context.Context) error { return nil }}
	switch cfg.Backend {
	case config.BackendMemory:
		m := feed.NewMemory()
		b.feed, b.creator = m, m

	case config.BackendSQL:
		st, err := storage.OpenSQL(cfg.SQLDriver, cfg.DSN())
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, st.Close)
		if cfg.RunMigrations || cfg.SQLDriver == storage.DriverSQLite {
			if err := st.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("migration applied", "driver", cfg.SQLDriver)
		}
		c := withKafka(b, st, cfg, logger)
		b.feed, b.creator = c, c
		b.ping = st.Ping

	case config.BackendRedis:
		client := storage.DialRedis(cfg.RedisAddr, cfg.RedisPassword)
		b.closers = append(b.closers, client.Close)
		st := storage.NewRedisStore(client, cfg.RedisKeyPrefix, cfg.RedisChannel, logger)
		b.feed, b.creator = st, st
		b.ping = st.Ping

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading AWS config: %w", err)
		}
		st := storage.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, logger)
		c := withKafka(b, st, cfg, logger)
		b.feed, b.creator = c, c

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return b, nil
}

func withKafka(b *backend, st feed.Store, cfg config.ServerConfig, logger *slog.Logger) *feed.Composite {
	producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	b.closers = append(b.closers, producer.Close)
	stream := ingest.NewKafkaStream(cfg.KafkaBrokers, cfg.KafkaTopic, kafkaGroup(cfg, "ride-notifier-"), logger)
	return &feed.Composite{Store: st, Stream: stream, Publisher: producer, Logger: logger}
}

// buildDispatcher fans notifications out to the log, the websocket hub and
// any configured push or email target, behind one async queue.
func buildDispatcher(ctx context.Context, cfg config.ServerConfig, hub *dispatch.WSHub, logger *slog.Logger) (*dispatch.Async, error) {
	targets := dispatch.Multi{&dispatch.LogDispatcher{Logger: logger}, hub}
	if cfg.PushEndpoint != "" {
		targets = append(targets, dispatch.NewPushDispatcher(cfg.PushEndpoint, cfg.PushKey, cfg.PushToken, logger))
	}
	if cfg.SESSender != "" && cfg.SESRecipient != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading AWS config: %w", err)
		}
		targets = append(targets, dispatch.NewSESDispatcher(ses.NewFromConfig(awsCfg), cfg.SESSender, cfg.SESRecipient, logger))
	}
	return dispatch.NewAsync(targets, cfg.NotifyQueueSize, logger), nil
}
