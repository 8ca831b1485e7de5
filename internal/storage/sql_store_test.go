package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(DriverSQLite, filepath.Join(t.TempDir(), "rides.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLStore_CreateThenReadOnce(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	first, err := s.Create(ctx, models.RideRequest{PickupLocation: "Main St", DestinationLocation: "Airport"})
	require.NoError(t, err)
	second, err := s.Create(ctx, models.RideRequest{PickupLocation: "Harbor", DestinationLocation: "Station"})
	require.NoError(t, err)

	rides, err := s.ReadOnce(ctx)
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, first.ID, rides[0].ID)
	assert.Equal(t, second.ID, rides[1].ID)
	assert.Equal(t, "Main St", rides[0].PickupLocation)
	assert.Equal(t, models.StatusRequested, rides[0].Status)
	require.NotNil(t, rides[0].CreatedAt)
	assert.True(t, first.CreatedAt.Equal(*rides[0].CreatedAt))
}

func TestSQLStore_CreateRejectsMissingFields(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.Create(context.Background(), models.RideRequest{PickupLocation: "Main St"})
	var malformed *models.MalformedRecordError
	require.ErrorAs(t, err, &malformed)
}

func TestSQLStore_WriteStatus(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.Insert(ctx, models.Ride{ID: "r2", PickupLocation: "A", DestinationLocation: "B"}))

	require.NoError(t, s.Write(ctx, "r2", feed.Fields{feed.StatusField: models.StatusAccepted}))
	got, err := s.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.NotNil(t, got.UpdatedAt)
	assert.Nil(t, got.CreatedAt)

	assert.ErrorIs(t, s.Write(ctx, "missing", feed.Fields{feed.StatusField: "Rejected"}), feed.ErrUnknownRecord)
	assert.Error(t, s.Write(ctx, "r2", feed.Fields{"pickup_location": "elsewhere"}))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, feed.ErrUnknownRecord)
}

func TestSQLStore_DuplicateInsertFails(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	r := models.Ride{ID: "dup", PickupLocation: "A", DestinationLocation: "B"}
	require.NoError(t, s.Insert(ctx, r))
	var te *feed.TransportError
	require.ErrorAs(t, s.Insert(ctx, r), &te)
}

func TestSQLStore_ComposesIntoFeed(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	stream := feed.NewMemory()
	c := &feed.Composite{Store: s, Stream: stream, Publisher: stream}

	var updated []models.Ride
	sub, err := c.Subscribe(ctx, feed.HandlerFuncs{Updated: func(r models.Ride) { updated = append(updated, r) }})
	require.NoError(t, err)
	defer sub.Close()

	r, err := c.Create(ctx, models.RideRequest{PickupLocation: "A", DestinationLocation: "B"})
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, r.ID, feed.Fields{feed.StatusField: "Rejected"}))

	require.Len(t, updated, 1)
	assert.Equal(t, models.StatusRejected, updated[0].Status)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL("mysql", "x")
	require.Error(t, err)
}
