package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/observability"
)

// MessageReader is the subset of *kafka.Reader used by KafkaStream.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// KafkaStream is a feed.Subscriber over a ride-event topic. Every client
// instance must see every event, so each process uses its own consumer
// group, starting at the newest offset: older rides arrive via the snapshot.
type KafkaStream struct {
	NewReader func() MessageReader
	Logger    *slog.Logger
	// Backoff overrides the initial retry delay after a read error.
	Backoff time.Duration
}

func NewKafkaStream(brokers []string, topic, group string, logger *slog.Logger) *KafkaStream {
	return &KafkaStream{
		NewReader: func() MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				Topic:       topic,
				GroupID:     group,
				StartOffset: kafka.LastOffset,
				MinBytes:    1,
				MaxBytes:    10e6,
				MaxWait:     500 * time.Millisecond,
			})
		},
		Logger: logger,
	}
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *kafkaSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (k *KafkaStream) Subscribe(ctx context.Context, h feed.Handler) (feed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, feed.Transport("subscribe", err)
	}
	logger := k.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := k.NewReader()
	ctx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer r.Close()
		k.consume(ctx, r, h, logger)
	}()
	return sub, nil
}

func (k *KafkaStream) consume(ctx context.Context, r MessageReader, h feed.Handler, logger *slog.Logger) {
	start := k.Backoff
	if start <= 0 {
		start = initialBackoff
	}
	backoff := start
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, kafka.ErrGroupClosed) {
				logger.Error("kafka reader closed", "error", err)
				return
			}
			observability.StreamErrors.WithLabelValues("kafka").Inc()
			logger.Warn("kafka read error; backing off", "error", err, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = start

		ev, err := feed.DecodeEvent(m.Value)
		if err != nil {
			observability.MalformedRecords.WithLabelValues("kafka").Inc()
			logger.Warn("dropping live event", "transport", "kafka", "offset", m.Offset, "error", err)
			continue
		}
		feed.Deliver(h, ev)
	}
}
