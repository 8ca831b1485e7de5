// Package reconciler merges the one-shot snapshot of existing rides with the
// live event stream, keeps the view current and notifies once per new ride.
//
// The snapshot read and the live subscription start concurrently and may
// interleave in any order. A ride counts as new only if its ID was never
// seen before, whichever source saw it first; snapshot IDs are unioned into
// the seen set, so a live "created" event that raced ahead of the snapshot
// keeps its notification and the snapshot adds none.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-notifier/internal/dispatch"
	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/observability"
	"github.com/example/ride-notifier/internal/seen"
	"github.com/example/ride-notifier/internal/view"
)

const NotificationTitle = "New ride request"

// Source is the read side of the remote feed.
type Source interface {
	feed.Snapshotter
	feed.Subscriber
}

type Options struct {
	Logger *slog.Logger
	// RefreshInterval, when positive, re-reads the snapshot periodically
	// and applies it as updates. Useful for stores whose live stream only
	// carries creations.
	RefreshInterval time.Duration
}

type Reconciler struct {
	source     Source
	dispatcher dispatch.Dispatcher
	seen       *seen.Set
	view       *view.Store
	logger     *slog.Logger
	refresh    time.Duration

	// mu serializes event and snapshot application with teardown.
	mu           sync.Mutex
	closed       bool
	snapshotDone bool
	early        []string // IDs applied from live events before the snapshot
	sub          feed.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// inflight counts notifications admitted before Stop; Stop waits on it.
	inflight  sync.WaitGroup
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(src Source, d dispatch.Dispatcher, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		source:     src,
		dispatcher: d,
		seen:       seen.New(),
		view:       view.New(),
		logger:     logger,
		refresh:    opts.RefreshInterval,
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
}

func (r *Reconciler) Seen() *seen.Set   { return r.seen }
func (r *Reconciler) View() *view.Store { return r.view }

// Done is closed once the first snapshot attempt has finished, successfully
// or not.
func (r *Reconciler) Done() <-chan struct{} { return r.done }

// SnapshotApplied reports whether a snapshot has landed in the view.
func (r *Reconciler) SnapshotApplied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotDone
}

// Start launches the snapshot read and opens the live subscription without
// waiting for either to finish first. A subscribe failure is returned as a
// *feed.TransportError; the snapshot task keeps running regardless. Start
// is a no-op after the first call.
func (r *Reconciler) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() { err = r.start(ctx) })
	return err
}

func (r *Reconciler) start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		close(r.done)
		return errors.New("reconciler stopped")
	}
	r.ctx, r.cancel = ctx, cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runSnapshot(ctx)
		if r.refresh > 0 {
			r.runRefresh(ctx)
		}
	}()

	sub, err := r.source.Subscribe(ctx, r)
	if err != nil {
		r.logger.Error("live subscription failed", "error", err)
		observability.StreamErrors.WithLabelValues("subscribe").Inc()
		return feed.Transport("subscribe", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Stop cancels the snapshot read and the subscription and waits for the
// background work and any notification already admitted to finish. After
// Stop returns no event is applied and nothing is dispatched. Stop must not
// be called from a Dispatcher.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sub := r.sub
		cancel := r.cancel
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sub != nil {
			if err := sub.Close(); err != nil {
				r.logger.Warn("closing subscription", "error", err)
			}
		}
		r.wg.Wait()
		r.inflight.Wait()
	})
}

func (r *Reconciler) runSnapshot(ctx context.Context) {
	defer close(r.done)
	start := time.Now()
	rides, err := r.source.ReadOnce(ctx)
	observability.SnapshotLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.SnapshotsTotal.WithLabelValues("error").Inc()
		r.logger.Error("snapshot read failed; continuing on live events", "error", err)
		return
	}
	observability.SnapshotsTotal.WithLabelValues("ok").Inc()
	r.applySnapshot(rides)
}

func (r *Reconciler) runRefresh(ctx context.Context) {
	t := time.NewTicker(r.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rides, err := r.source.ReadOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("refresh read failed", "error", err)
				observability.SnapshotsTotal.WithLabelValues("refresh_error").Inc()
				continue
			}
			observability.SnapshotsTotal.WithLabelValues("refresh").Inc()
			r.applyRefresh(rides)
		}
	}
}

func (r *Reconciler) valid(rides []models.Ride, source string) ([]models.Ride, []string) {
	out := make([]models.Ride, 0, len(rides))
	ids := make([]string, 0, len(rides))
	for _, ride := range rides {
		if err := ride.Validate(); err != nil {
			r.logger.Warn("dropping malformed record", "source", source, "error", err)
			observability.MalformedRecords.WithLabelValues(source).Inc()
			continue
		}
		out = append(out, ride.Normalize())
		ids = append(ids, ride.ID)
	}
	return out, ids
}

func (r *Reconciler) applySnapshot(rides []models.Ride) {
	rides, ids := r.valid(rides, "snapshot")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.applySnapshotLocked(rides, ids)
}

func (r *Reconciler) applySnapshotLocked(rides []models.Ride, ids []string) {
	r.seen.Union(ids...)

	// Live events that arrived before the snapshot stay in the view: rides
	// created after the snapshot was taken are absent from it, and a live
	// version is kept unless the snapshot copy is strictly newer.
	inSnapshot := make(map[string]int, len(rides))
	for i, ride := range rides {
		inSnapshot[ride.ID] = i
	}
	merged := rides
	for _, id := range r.early {
		live, ok := r.view.Get(id)
		if !ok {
			continue
		}
		if i, ok := inSnapshot[id]; ok {
			if !merged[i].NewerThan(live) {
				merged[i] = live
			}
			continue
		}
		merged = append(merged, live)
	}

	r.view.ReplaceAll(merged)
	r.snapshotDone = true
	r.early = nil
	observability.SnapshotRecords.Set(float64(len(rides)))
	observability.ViewSize.Set(float64(r.view.Len()))
	r.logger.Info("snapshot applied", "records", len(rides), "view", r.view.Len(), "seen", r.seen.Len())
}

// applyRefresh folds a periodic re-read into the view. Until a snapshot
// has landed the re-read stands in for it. After that, an ID the session
// has never seen is a new ride and notifies like a live "created" event,
// and a known ride is only replaced by a strictly newer copy.
func (r *Reconciler) applyRefresh(rides []models.Ride) {
	rides, ids := r.valid(rides, "refresh")

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.snapshotDone {
		r.applySnapshotLocked(rides, ids)
		r.mu.Unlock()
		return
	}
	var fresh []models.Ride
	for _, ride := range rides {
		if r.seen.Add(ride.ID) {
			r.view.Upsert(ride)
			fresh = append(fresh, ride)
			continue
		}
		if cur, ok := r.view.Get(ride.ID); ok && cur.UpdatedAt != nil && !ride.NewerThan(cur) {
			continue
		}
		r.view.Upsert(ride)
	}
	ctx := r.ctx
	if len(fresh) > 0 {
		r.inflight.Add(1)
	}
	r.mu.Unlock()

	observability.ViewSize.Set(float64(r.view.Len()))
	if len(fresh) == 0 {
		return
	}
	defer r.inflight.Done()
	for _, ride := range fresh {
		r.notify(ctx, ride, "refresh")
	}
}

func (r *Reconciler) notify(ctx context.Context, ride models.Ride, source string) {
	observability.NewRides.Inc()
	r.logger.Info("new ride", "ride_id", ride.ID, "source", source)
	r.dispatcher.Dispatch(ctx, NotificationTitle, NotificationBody(ride))
}

// OnCreated handles a live "created" event. The ride is forwarded to the
// view and to the dispatcher only the first time its ID is seen.
func (r *Reconciler) OnCreated(ride models.Ride) {
	if err := ride.Validate(); err != nil {
		r.logger.Warn("dropping malformed record", "source", "created", "error", err)
		observability.MalformedRecords.WithLabelValues("created").Inc()
		return
	}
	ride = ride.Normalize()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		observability.StaleEvents.Inc()
		return
	}
	if !r.seen.Add(ride.ID) {
		r.mu.Unlock()
		observability.DuplicatesDiscarded.Inc()
		r.logger.Debug("created event for seen ride ignored", "ride_id", ride.ID)
		return
	}
	r.view.Upsert(ride)
	r.noteEarlyLocked(ride.ID)
	ctx := r.ctx
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	observability.LiveEvents.WithLabelValues(string(feed.Created)).Inc()
	observability.ViewSize.Set(float64(r.view.Len()))
	r.notify(ctx, ride, "live")
}

// OnUpdated handles a live "updated" event. It only ever upserts into the
// view; it never notifies and never touches the seen set, even for an ID
// that was never created in this session.
func (r *Reconciler) OnUpdated(ride models.Ride) {
	if err := ride.Validate(); err != nil {
		r.logger.Warn("dropping malformed record", "source", "updated", "error", err)
		observability.MalformedRecords.WithLabelValues("updated").Inc()
		return
	}
	ride = ride.Normalize()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		observability.StaleEvents.Inc()
		return
	}
	r.view.Upsert(ride)
	r.noteEarlyLocked(ride.ID)
	r.mu.Unlock()

	observability.LiveEvents.WithLabelValues(string(feed.Updated)).Inc()
	observability.ViewSize.Set(float64(r.view.Len()))
	r.logger.Debug("ride updated", "ride_id", ride.ID, "status", ride.Status)
}

func (r *Reconciler) noteEarlyLocked(id string) {
	if r.snapshotDone {
		return
	}
	r.early = append(r.early, id)
}

// NotificationBody is the text shown for a new ride.
func NotificationBody(ride models.Ride) string {
	return fmt.Sprintf("From %s to %s (ride %s)", ride.PickupLocation, ride.DestinationLocation, ride.ID)
}
