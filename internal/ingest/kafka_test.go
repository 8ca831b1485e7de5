package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

// fakeReader replays queued results and then blocks until ctx is done.
type fakeReader struct {
	mu     sync.Mutex
	queue  []readResult
	closed bool
}

type readResult struct {
	msg kafka.Message
	err error
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return r.msg, r.err
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recorder struct {
	mu      sync.Mutex
	created []string
	updated []string
}

func (r *recorder) OnCreated(ride models.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, ride.ID)
}

func (r *recorder) OnUpdated(ride models.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, ride.ID)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), len(r.updated)
}

func encoded(t *testing.T, kind feed.Kind, id string) kafka.Message {
	t.Helper()
	b, err := feed.EncodeEvent(feed.Event{Kind: kind, Ride: models.Ride{ID: id, PickupLocation: "A", DestinationLocation: "B"}})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(id), Value: b}
}

func TestKafkaProducer_KeysByRideID(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w)

	err := p.Publish(context.Background(), feed.Event{Kind: feed.Created, Ride: models.Ride{ID: "r1", PickupLocation: "A", DestinationLocation: "B"}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "r1", string(w.msgs[0].Key))

	ev, err := feed.DecodeEvent(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, feed.Created, ev.Kind)
	assert.Equal(t, models.StatusRequested, ev.Ride.Status)
}

func TestKafkaProducer_WriteFailureIsTransportError(t *testing.T) {
	p := NewKafkaProducerWithWriter(&fakeWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), feed.Event{Kind: feed.Updated, Ride: models.Ride{ID: "r1"}})
	var te *feed.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "publish", te.Op)
}

func TestKafkaProducer_RejectsUnknownKind(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w)
	assert.Error(t, p.Publish(context.Background(), feed.Event{Kind: "deleted", Ride: models.Ride{ID: "r1"}}))
	assert.Empty(t, w.msgs)
}

func TestKafkaStream_DeliversAndSkipsMalformed(t *testing.T) {
	r := &fakeReader{queue: []readResult{
		{msg: encoded(t, feed.Created, "r1")},
		{msg: kafka.Message{Value: []byte("{not json")}},
		{err: errors.New("leader not available")},
		{msg: encoded(t, feed.Updated, "r1")},
		{msg: kafka.Message{Value: []byte(`{"type":"created","ride":{"pickup_location":"A"}}`)}},
		{msg: encoded(t, feed.Created, "r2")},
	}}
	s := &KafkaStream{NewReader: func() MessageReader { return r }, Backoff: time.Millisecond}
	rec := &recorder{}

	sub, err := s.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, u := rec.counts()
		return c == 2 && u == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	assert.True(t, r.isClosed())
	assert.Equal(t, []string{"r1", "r2"}, rec.created)
	assert.Equal(t, []string{"r1"}, rec.updated)
}

func TestKafkaStream_StopsOnContextCancel(t *testing.T) {
	r := &fakeReader{}
	s := &KafkaStream{NewReader: func() MessageReader { return r }}
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Subscribe(ctx, &recorder{})
	require.NoError(t, err)
	cancel()
	require.Eventually(t, r.isClosed, time.Second, 5*time.Millisecond)
	assert.NoError(t, sub.Close())
}

func TestKafkaStream_SubscribeAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &KafkaStream{NewReader: func() MessageReader { t.Fatal("reader opened"); return nil }}
	_, err := s.Subscribe(ctx, &recorder{})
	var te *feed.TransportError
	require.ErrorAs(t, err, &te)
}
