package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/observability"
)

const (
	DefaultRedisPrefix  = "ride:"
	DefaultRedisChannel = "ride-events"
)

// RedisStore is a complete feed on Redis: one hash per ride, a set of ride
// IDs for the snapshot, and a pub/sub channel for live events.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedisStore(client *redis.Client, prefix, channel string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, channel: channel, logger: logger, now: time.Now}
}

func DialRedis(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func (r *RedisStore) key(id string) string { return r.prefix + id }
func (r *RedisStore) idsKey() string       { return r.prefix + "ids" }

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func rideToHash(ride models.Ride) map[string]any {
	h := map[string]any{
		"id":                   ride.ID,
		"pickup_location":      ride.PickupLocation,
		"destination_location": ride.DestinationLocation,
		"status":               string(ride.Normalize().Status),
	}
	if ride.CreatedAt != nil {
		h["created_at"] = ride.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if ride.UpdatedAt != nil {
		h["updated_at"] = ride.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return h
}

func rideFromHash(m map[string]string) (models.Ride, error) {
	r := models.Ride{
		ID:                  m["id"],
		PickupLocation:      m["pickup_location"],
		DestinationLocation: m["destination_location"],
		Status:              models.Status(m["status"]),
	}
	for field, dst := range map[string]**time.Time{"created_at": &r.CreatedAt, "updated_at": &r.UpdatedAt} {
		v, ok := m[field]
		if !ok || v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return models.Ride{}, &models.MalformedRecordError{ID: r.ID, Field: field, Reason: "bad timestamp", Err: err}
		}
		*dst = &t
	}
	return r, nil
}

func (r *RedisStore) ReadOnce(ctx context.Context) ([]models.Ride, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, feed.Transport("read", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, feed.Transport("read", err)
	}

	out := make([]models.Ride, 0, len(ids))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		ride, err := rideFromHash(m)
		if err != nil {
			r.logger.Warn("skipping unreadable ride hash", "error", err)
			continue
		}
		out = append(out, ride)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (models.Ride, error) {
	m, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return models.Ride{}, feed.Transport("get", err)
	}
	if len(m) == 0 {
		return models.Ride{}, feed.ErrUnknownRecord
	}
	return rideFromHash(m)
}

// Put stores ride and adds it to the snapshot set without publishing.
func (r *RedisStore) Put(ctx context.Context, ride models.Ride) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key(ride.ID), rideToHash(ride))
		p.SAdd(ctx, r.idsKey(), ride.ID)
		return nil
	})
	if err != nil {
		return feed.Transport("put", err)
	}
	return nil
}

func (r *RedisStore) Publish(ctx context.Context, ev feed.Event) error {
	b, err := feed.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return feed.Transport("publish", err)
	}
	return nil
}

func (r *RedisStore) Create(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	now := r.now().UTC()
	ride := models.Ride{
		ID:                  uuid.NewString(),
		PickupLocation:      req.PickupLocation,
		DestinationLocation: req.DestinationLocation,
		Status:              models.StatusRequested,
		CreatedAt:           &now,
		UpdatedAt:           &now,
	}
	if err := ride.Validate(); err != nil {
		return models.Ride{}, err
	}
	if err := r.Put(ctx, ride); err != nil {
		return models.Ride{}, err
	}
	if err := r.Publish(ctx, feed.Event{Kind: feed.Created, Ride: ride}); err != nil {
		r.logger.Warn("publish create failed", "ride_id", ride.ID, "error", err)
	}
	return ride, nil
}

func (r *RedisStore) Write(ctx context.Context, id string, fields feed.Fields) error {
	st, err := feed.WritableStatus(fields)
	if err != nil {
		return fmt.Errorf("rejected write to %s: %w", id, err)
	}
	key := r.key(id)
	now := r.now().UTC().Format(time.RFC3339Nano)
	// WATCH keeps a concurrent delete from resurrecting a partial hash.
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return feed.ErrUnknownRecord
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "status", string(st), "updated_at", now)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, feed.ErrUnknownRecord) {
		return err
	}
	if err != nil {
		return feed.Transport("write", err)
	}

	ride, err := r.Get(ctx, id)
	if err != nil {
		r.logger.Warn("re-read after write failed", "ride_id", id, "error", err)
		return nil
	}
	if err := r.Publish(ctx, feed.Event{Kind: feed.Updated, Ride: ride}); err != nil {
		r.logger.Warn("publish update failed", "ride_id", id, "error", err)
	}
	return nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// Subscribe confirms the channel subscription before returning. go-redis
// re-subscribes on its own after connection loss.
func (r *RedisStore) Subscribe(ctx context.Context, h feed.Handler) (feed.Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, feed.Transport("subscribe", err)
	}
	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				go sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := feed.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("dropping live event", "transport", "redis", "error", err)
					observability.MalformedRecords.WithLabelValues("redis").Inc()
					continue
				}
				feed.Deliver(h, ev)
			}
		}
	}()
	return sub, nil
}
