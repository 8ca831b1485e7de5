package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-notifier/internal/models"
)

// Memory is an in-process ride store with a live stream. Events are
// delivered synchronously on the goroutine that caused them.
type Memory struct {
	mu     sync.RWMutex
	rides  map[string]models.Ride
	order  []string
	subs   map[int]*memorySub
	nextID int

	// DuplicateCreates delivers every created event twice.
	DuplicateCreates bool

	gate        chan struct{}
	snapshotErr error
	writeErr    error
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rides: make(map[string]models.Ride), subs: make(map[int]*memorySub), now: time.Now}
}

// Seed stores rides without emitting events, as if they predate every
// subscriber.
func (m *Memory) Seed(rides ...models.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rides {
		m.putLocked(r.Normalize())
	}
}

func (m *Memory) putLocked(r models.Ride) {
	if _, ok := m.rides[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rides[r.ID] = r
}

// HoldSnapshot makes ReadOnce block until the returned func is called.
func (m *Memory) HoldSnapshot() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailSnapshot makes ReadOnce return err until cleared with nil.
func (m *Memory) FailSnapshot(err error) {
	m.mu.Lock()
	m.snapshotErr = err
	m.mu.Unlock()
}

// FailWrites makes Write return err until cleared with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *Memory) ReadOnce(ctx context.Context) ([]models.Ride, error) {
	m.mu.RLock()
	gate := m.gate
	m.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshotErr != nil {
		return nil, Transport("read", m.snapshotErr)
	}
	out := make([]models.Ride, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rides[id])
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrUnknownRecord
	}
	return r, nil
}

type memorySub struct {
	h      Handler
	closed chan struct{}
	once   sync.Once
	drop   func()
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.drop()
	})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transport("subscribe", err)
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	sub := &memorySub{h: h, closed: make(chan struct{})}
	sub.drop = func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Emit delivers ev to every subscriber without touching stored state. Tests
// use it to inject duplicates, out-of-order and malformed events.
func (m *Memory) Emit(ev Event) {
	m.mu.RLock()
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	for _, s := range subs {
		select {
		case <-s.closed:
			continue
		default:
		}
		Deliver(s.h, ev)
	}
}

// Publish stores the ride and emits the event, so Memory can stand in for
// both halves of a Composite.
func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.putLocked(ev.Ride)
	m.mu.Unlock()
	m.Emit(ev)
	return nil
}

func (m *Memory) Create(_ context.Context, req models.RideRequest) (models.Ride, error) {
	now := m.now().UTC()
	r := models.Ride{
		ID:                  uuid.NewString(),
		PickupLocation:      req.PickupLocation,
		DestinationLocation: req.DestinationLocation,
		Status:              models.StatusRequested,
		CreatedAt:           &now,
		UpdatedAt:           &now,
	}
	if err := r.Validate(); err != nil {
		return models.Ride{}, err
	}
	m.mu.Lock()
	m.putLocked(r)
	m.mu.Unlock()

	m.Emit(Event{Kind: Created, Ride: r})
	if m.DuplicateCreates {
		m.Emit(Event{Kind: Created, Ride: r})
	}
	return r, nil
}

func (m *Memory) Write(_ context.Context, id string, fields Fields) error {
	st, err := WritableStatus(fields)
	if err != nil {
		return fmt.Errorf("rejected write to %s: %w", id, err)
	}
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return Transport("write", err)
	}
	r, ok := m.rides[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownRecord
	}
	now := m.now().UTC()
	r.Status = st
	r.UpdatedAt = &now
	m.rides[id] = r
	m.mu.Unlock()

	m.Emit(Event{Kind: Updated, Ride: r})
	return nil
}
