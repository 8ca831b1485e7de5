package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-notifier/internal/models"
)

type recorder struct {
	mu      sync.Mutex
	created []models.Ride
	updated []models.Ride
}

func (r *recorder) OnCreated(ride models.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, ride)
}

func (r *recorder) OnUpdated(ride models.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, ride)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"CREATED","ride":{"id":"r1","pickup_location":"A","destination_location":"B"}}`))
	require.NoError(t, err)
	assert.Equal(t, Created, ev.Kind)
	assert.Equal(t, models.StatusRequested, ev.Ride.Status)

	var malformed *models.MalformedRecordError
	_, err = DecodeEvent([]byte(`not json`))
	require.ErrorAs(t, err, &malformed)

	_, err = DecodeEvent([]byte(`{"type":"deleted","ride":{"id":"r1","pickup_location":"A","destination_location":"B"}}`))
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "type", malformed.Field)

	_, err = DecodeEvent([]byte(`{"type":"updated","ride":{"id":"r1","pickup_location":"A"}}`))
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "destination_location", malformed.Field)
}

func TestEncodeEvent_RoundTripsThroughDecode(t *testing.T) {
	in := Event{Kind: Updated, Ride: models.Ride{ID: "r9", PickupLocation: "A", DestinationLocation: "B", Status: models.StatusAccepted}}
	b, err := EncodeEvent(in)
	require.NoError(t, err)
	out, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = EncodeEvent(Event{Kind: "bogus"})
	require.Error(t, err)
}

func TestWritableStatus(t *testing.T) {
	st, err := WritableStatus(Fields{StatusField: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, st)

	st, err = WritableStatus(Fields{StatusField: models.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, st)

	_, err = WritableStatus(Fields{"pickup_location": "X"})
	require.Error(t, err)
	_, err = WritableStatus(Fields{StatusField: 3})
	require.Error(t, err)
	_, err = WritableStatus(nil)
	require.Error(t, err)
}

func TestTransport_WrapsOnce(t *testing.T) {
	base := errors.New("connection refused")
	err := Transport("read", base)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read", te.Op)
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, Transport("subscribe", err))
	assert.Nil(t, Transport("read", nil))
}

func TestMemory_CreateAndWriteEmitEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := &recorder{}
	sub, err := m.Subscribe(ctx, rec)
	require.NoError(t, err)
	defer sub.Close()

	r, err := m.Create(ctx, models.RideRequest{PickupLocation: "A", DestinationLocation: "B"})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	require.NoError(t, m.Write(ctx, r.ID, Fields{StatusField: models.StatusAccepted}))

	require.Len(t, rec.created, 1)
	require.Len(t, rec.updated, 1)
	assert.Equal(t, models.StatusAccepted, rec.updated[0].Status)

	snap, err := m.ReadOnce(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, models.StatusAccepted, snap[0].Status)
}

func TestMemory_WriteFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed(models.Ride{ID: "r1", PickupLocation: "A", DestinationLocation: "B"})

	assert.ErrorIs(t, m.Write(ctx, "nope", Fields{StatusField: "Accepted"}), ErrUnknownRecord)
	assert.Error(t, m.Write(ctx, "r1", Fields{StatusField: "Finished"}))

	m.FailWrites(errors.New("offline"))
	var te *TransportError
	assert.ErrorAs(t, m.Write(ctx, "r1", Fields{StatusField: "Accepted"}), &te)
}

func TestMemory_ClosedSubscriptionStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	rec := &recorder{}
	_, err := m.Subscribe(ctx, rec)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.subs) == 0
	}, time.Second, 5*time.Millisecond)

	_, err = m.Create(context.Background(), models.RideRequest{PickupLocation: "A", DestinationLocation: "B"})
	require.NoError(t, err)
	assert.Empty(t, rec.created)
}

func TestMemory_HoldSnapshotRespectsContext(t *testing.T) {
	m := NewMemory()
	release := m.HoldSnapshot()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.ReadOnce(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestComposite_WritePublishesUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	stream := NewMemory()
	store.Seed(models.Ride{ID: "r1", PickupLocation: "A", DestinationLocation: "B"})

	c := &Composite{Store: store, Stream: stream, Publisher: stream}
	rec := &recorder{}
	sub, err := c.Subscribe(ctx, rec)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Write(ctx, "r1", Fields{StatusField: "Rejected"}))
	require.Len(t, rec.updated, 1)
	assert.Equal(t, models.StatusRejected, rec.updated[0].Status)

	created, err := c.Create(ctx, models.RideRequest{PickupLocation: "C", DestinationLocation: "D"})
	require.NoError(t, err)
	require.Len(t, rec.created, 1)
	assert.Equal(t, created.ID, rec.created[0].ID)

	assert.ErrorIs(t, c.Write(ctx, "missing", Fields{StatusField: "Accepted"}), ErrUnknownRecord)
}

func TestComposite_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.Seed(models.Ride{ID: "r1", PickupLocation: "A", DestinationLocation: "B"})
	pub := &failingPublisher{}

	c := &Composite{Store: store, Stream: NewMemory(), Publisher: pub}
	require.NoError(t, c.Write(ctx, "r1", Fields{StatusField: "Accepted"}))
	assert.Equal(t, 1, pub.calls)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
}
