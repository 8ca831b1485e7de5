package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
)

// fakeMirror implements Mirror for tests
type fakeMirror struct {
	mu       sync.Mutex
	failPut  int // number of times to fail Put before succeeding
	failPub  int // number of times to fail Publish before succeeding
	putCalls int
	pubCalls int
	events   []feed.Event
}

func (f *fakeMirror) Put(ctx context.Context, ride models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putCalls <= f.failPut {
		return errors.New("hset fail")
	}
	return nil
}

func (f *fakeMirror) Publish(ctx context.Context, ev feed.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubCalls++
	if f.pubCalls <= f.failPub {
		return errors.New("publish fail")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeMirror) published() []feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feed.Event(nil), f.events...)
}

func ride(id string) models.Ride {
	return models.Ride{ID: id, PickupLocation: "A", DestinationLocation: "B", Status: models.StatusRequested}
}

func TestMirrorWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeMirror{failPut: 1, failPub: 1}
	ctx := context.Background()
	start := time.Now()
	if err := mirrorWithRetry(ctx, f, feed.Event{Kind: feed.Created, Ride: ride("r1")}, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.putCalls < 2 || f.pubCalls < 2 {
		t.Fatalf("expected retries, got put=%d publish=%d", f.putCalls, f.pubCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestMirrorWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeMirror{failPut: 5}
	ctx := context.Background()
	if err := mirrorWithRetry(ctx, f, feed.Event{Kind: feed.Created, Ride: ride("r1")}, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.pubCalls != 0 {
		t.Fatalf("expected no publish after failed put, got %d", f.pubCalls)
	}
}

func TestMirrorWithRetry_ZeroAttemptsStillTriesOnce(t *testing.T) {
	f := &fakeMirror{}
	if err := mirrorWithRetry(context.Background(), f, feed.Event{Kind: feed.Created, Ride: ride("r1")}, 0, time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.putCalls != 1 || f.pubCalls != 1 {
		t.Fatalf("expected one put and one publish, got put=%d publish=%d", f.putCalls, f.pubCalls)
	}

	failing := &fakeMirror{failPut: 1}
	if err := mirrorWithRetry(context.Background(), failing, feed.Event{Kind: feed.Created, Ride: ride("r1")}, 0, time.Millisecond); err == nil {
		t.Fatalf("expected the put failure to be reported")
	}
}

func TestMirrorWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeMirror{failPut: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mirrorWithRetry(ctx, f, feed.Event{Kind: feed.Created, Ride: ride("r1")}, 3, time.Hour); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if f.putCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.putCalls)
	}
}

func TestRelay_MirrorsLiveEvents(t *testing.T) {
	src := feed.NewMemory()
	f := &fakeMirror{}
	r := New(src, f, nil)
	r.Delay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for {
		src.Emit(feed.Event{Kind: feed.Created, Ride: ride("r1")})
		if len(f.published()) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	src.Emit(feed.Event{Kind: feed.Updated, Ride: ride("r1")})
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}

	got := f.published()
	if len(got) < 2 {
		t.Fatalf("expected created and updated to be mirrored, got %d", len(got))
	}
	if got[len(got)-1].Kind != feed.Updated {
		t.Fatalf("expected last event updated, got %s", got[len(got)-1].Kind)
	}
}

func TestRelay_SubscribeFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(feed.NewMemory(), &fakeMirror{}, nil)
	if err := r.Run(ctx); err == nil {
		t.Fatalf("expected subscribe error on cancelled context")
	}
}
