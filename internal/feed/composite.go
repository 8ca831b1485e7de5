package feed

import (
	"context"
	"log/slog"

	"github.com/example/ride-notifier/internal/models"
)

// Store is a record store without a change stream of its own.
type Store interface {
	Snapshotter
	Writer
	Get(ctx context.Context, id string) (models.Ride, error)
}

// Composite joins a record store with a separate event stream. Writes and
// creates are published to the stream after the store accepts them, so the
// change comes back to every subscriber as a live event.
type Composite struct {
	Store     Store
	Stream    Subscriber
	Publisher Publisher // optional
	Logger    *slog.Logger
}

func (c *Composite) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Composite) ReadOnce(ctx context.Context) ([]models.Ride, error) {
	return c.Store.ReadOnce(ctx)
}

func (c *Composite) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	return c.Stream.Subscribe(ctx, h)
}

func (c *Composite) Write(ctx context.Context, id string, fields Fields) error {
	if err := c.Store.Write(ctx, id, fields); err != nil {
		return err
	}
	if c.Publisher == nil {
		return nil
	}
	r, err := c.Store.Get(ctx, id)
	if err != nil {
		c.logger().Warn("re-read after write failed", "ride_id", id, "error", err)
		return nil
	}
	// the write is committed; a lost publish is picked up by the next refresh
	if err := c.Publisher.Publish(ctx, Event{Kind: Updated, Ride: r}); err != nil {
		c.logger().Warn("publish update failed", "ride_id", id, "error", err)
	}
	return nil
}

// Create is available when Store also implements Creator.
func (c *Composite) Create(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	cr, ok := c.Store.(Creator)
	if !ok {
		return models.Ride{}, &TransportError{Op: "create", Err: errNotSupported}
	}
	r, err := cr.Create(ctx, req)
	if err != nil {
		return models.Ride{}, err
	}
	if c.Publisher != nil {
		if err := c.Publisher.Publish(ctx, Event{Kind: Created, Ride: r}); err != nil {
			c.logger().Warn("publish create failed", "ride_id", r.ID, "error", err)
		}
	}
	return r, nil
}
