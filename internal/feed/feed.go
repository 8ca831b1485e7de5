// Package feed defines the boundary to the remote ride store: a one-shot
// snapshot read, a live stream of created/updated events, and field writes.
package feed

import (
	"context"

	"github.com/example/ride-notifier/internal/models"
)

// Handler receives live events. Implementations must be safe to call from
// any goroutine.
type Handler interface {
	OnCreated(models.Ride)
	OnUpdated(models.Ride)
}

// Snapshotter returns every ride currently in the store.
type Snapshotter interface {
	ReadOnce(ctx context.Context) ([]models.Ride, error)
}

// Subscription is the cancel handle for a live stream.
type Subscription interface {
	Close() error
}

// Subscriber opens a live stream. Delivery is at-least-once and continues
// until ctx is done or the subscription is closed. Transient transport
// failures are retried by the implementation.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Fields is a partial record update keyed by stored field name.
type Fields map[string]any

// Writer updates fields of an existing ride. An unknown id yields
// ErrUnknownRecord.
type Writer interface {
	Write(ctx context.Context, id string, fields Fields) error
}

// Publisher pushes an event onto a live stream.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Creator inserts a new ride and returns it with its store-assigned ID.
type Creator interface {
	Create(ctx context.Context, req models.RideRequest) (models.Ride, error)
}

// Feed is everything the reconciler and status updater need.
type Feed interface {
	Snapshotter
	Subscriber
	Writer
}

// HandlerFuncs adapts two funcs to a Handler. Nil funcs are ignored.
type HandlerFuncs struct {
	Created func(models.Ride)
	Updated func(models.Ride)
}

func (h HandlerFuncs) OnCreated(r models.Ride) {
	if h.Created != nil {
		h.Created(r)
	}
}

func (h HandlerFuncs) OnUpdated(r models.Ride) {
	if h.Updated != nil {
		h.Updated(r)
	}
}

// Deliver routes ev to the matching handler method.
func Deliver(h Handler, ev Event) {
	switch ev.Kind {
	case Created:
		h.OnCreated(ev.Ride)
	case Updated:
		h.OnUpdated(ev.Ride)
	}
}

// StatusField is the stored name of models.Ride.Status.
const StatusField = "status"
