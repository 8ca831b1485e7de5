// Package relay mirrors the Kafka ride-event topic into Redis so clients on
// the Redis backend see rides written through SQL or DynamoDB.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/observability"
)

// Mirror defines the small subset of redis operations we need for tests and production.
type Mirror interface {
	Put(ctx context.Context, ride models.Ride) error
	Publish(ctx context.Context, ev feed.Event) error
}

type Relay struct {
	Source   feed.Subscriber
	Target   Mirror
	Logger   *slog.Logger
	Attempts int
	Delay    time.Duration
}

func New(src feed.Subscriber, target Mirror, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{Source: src, Target: target, Logger: logger, Attempts: 3, Delay: 200 * time.Millisecond}
}

// Run relays events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	h := feed.HandlerFuncs{
		Created: func(ride models.Ride) { r.relay(ctx, feed.Event{Kind: feed.Created, Ride: ride}) },
		Updated: func(ride models.Ride) { r.relay(ctx, feed.Event{Kind: feed.Updated, Ride: ride}) },
	}
	sub, err := r.Source.Subscribe(ctx, h)
	if err != nil {
		return err
	}
	r.Logger.Info("relay started")
	<-ctx.Done()
	r.Logger.Info("shutting down relay")
	return sub.Close()
}

func (r *Relay) relay(ctx context.Context, ev feed.Event) {
	if err := mirrorWithRetry(ctx, r.Target, ev, r.Attempts, r.Delay); err != nil {
		observability.RelayMessages.WithLabelValues("error").Inc()
		r.Logger.Error("redis mirror failed", "ride_id", ev.Ride.ID, "type", ev.Kind, "error", err)
		return
	}
	observability.RelayMessages.WithLabelValues("ok").Inc()
}

// mirrorWithRetry stores the ride then publishes the event, retrying each
// step with exponential backoff. Each step is tried at least once.
func mirrorWithRetry(ctx context.Context, m Mirror, ev feed.Event, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = m.Put(ctx, ev.Ride); err == nil {
			break
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			return err
		}
		delay *= 2
	}
	for i := 0; i < attempts; i++ {
		if err = m.Publish(ctx, ev); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			return err
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
