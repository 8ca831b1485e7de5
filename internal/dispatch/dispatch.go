package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-notifier/internal/observability"
)

// Dispatcher delivers an operator notification. Dispatch is fire-and-forget:
// delivery failures are logged by the implementation, never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, title, body string)
}

// Notification is the payload sent to websocket and push clients.
type Notification struct {
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Channel string    `json:"channel,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

func newNotification(title, body string) Notification {
	return Notification{
		Type:    "ride_requested",
		Title:   title,
		Body:    body,
		Channel: CurrentChannel().ID,
		SentAt:  time.Now().UTC(),
	}
}

// LogDispatcher writes notifications to the structured log.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, title, body string) {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification", "title", title, "body", body, "channel", CurrentChannel().ID)
	observability.NotificationsSent.WithLabelValues("log").Inc()
}

// Multi fans a notification out to every dispatcher in order.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, title, body string) {
	for _, d := range m {
		d.Dispatch(ctx, title, body)
	}
}

// Async queues notifications for a single background worker so slow
// network dispatchers never block event delivery. When the queue is full
// the notification is dropped and logged.
type Async struct {
	next   Dispatcher
	queue  chan Notification
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Dispatcher, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{next: next, queue: make(chan Notification, size), logger: logger}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for n := range a.queue {
		a.next.Dispatch(context.Background(), n.Title, n.Body)
	}
}

func (a *Async) Dispatch(_ context.Context, title, body string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("notification after close dropped", "title", title)
		return
	}
	select {
	case a.queue <- Notification{Title: title, Body: body}:
	default:
		a.logger.Warn("notification queue full, dropped", "title", title)
		observability.NotificationsDropped.Inc()
	}
}

// Close drains queued notifications and stops the worker.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
	})
}
