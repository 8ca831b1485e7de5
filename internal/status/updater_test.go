package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

type writerFunc func(ctx context.Context, id string, fields feed.Fields) error

func (f writerFunc) Write(ctx context.Context, id string, fields feed.Fields) error {
	return f(ctx, id, fields)
}

func TestUpdateStatus_Success(t *testing.T) {
	var gotID string
	var gotFields feed.Fields
	u := New(writerFunc(func(_ context.Context, id string, fields feed.Fields) error {
		gotID, gotFields = id, fields
		return nil
	}), nil)

	require.True(t, u.UpdateStatus(context.Background(), "r2", models.StatusAccepted))
	assert.Equal(t, "r2", gotID)
	assert.Equal(t, feed.Fields{feed.StatusField: models.StatusAccepted}, gotFields)
}

func TestUpdateStatus_FailuresReturnFalse(t *testing.T) {
	cases := map[string]error{
		"unknown":   feed.ErrUnknownRecord,
		"transport": &feed.TransportError{Op: "write", Err: errors.New("timeout")},
		"rejected":  errors.New("rejected write"),
	}
	for name, err := range cases {
		t.Run(name, func(t *testing.T) {
			u := New(writerFunc(func(context.Context, string, feed.Fields) error { return err }), nil)
			assert.False(t, u.UpdateStatus(context.Background(), "r1", models.StatusRejected))
		})
	}
}

func TestUpdateStatus_InvalidInputNeverWrites(t *testing.T) {
	calls := 0
	u := New(writerFunc(func(context.Context, string, feed.Fields) error { calls++; return nil }), nil)

	assert.False(t, u.UpdateStatus(context.Background(), "", models.StatusAccepted))
	assert.False(t, u.UpdateStatus(context.Background(), "r1", models.Status("Completed")))
	assert.Zero(t, calls)
}

func TestUpdateStatus_DoesNotTouchStoreStateOnFailure(t *testing.T) {
	m := feed.NewMemory()
	m.Seed(models.Ride{ID: "r1", PickupLocation: "A", DestinationLocation: "B"})
	m.FailWrites(errors.New("offline"))
	u := New(m, nil)

	assert.False(t, u.UpdateStatus(context.Background(), "r1", models.StatusAccepted))
	got, err := m.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequested, got.Status)
}
