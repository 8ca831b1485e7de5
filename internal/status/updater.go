// Package status writes operator decisions (accept / reject) back to the
// remote store.
package status

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/ride-notifier/internal/feed"
	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/observability"
)

// Updater issues status writes. It never touches the local view: the new
// status shows up once the store echoes it back as an "updated" event.
type Updater struct {
	Writer feed.Writer
	Logger *slog.Logger
}

func New(w feed.Writer, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{Writer: w, Logger: logger}
}

// UpdateStatus reports whether the store accepted the write. Every failure,
// including an unknown id or an invalid status, yields false.
func (u *Updater) UpdateStatus(ctx context.Context, id string, st models.Status) bool {
	if strings.TrimSpace(id) == "" {
		u.Logger.Warn("status update rejected", "error", "empty ride id")
		observability.StatusUpdates.WithLabelValues("invalid").Inc()
		return false
	}
	if !st.Valid() {
		u.Logger.Warn("status update rejected", "ride_id", id, "status", st)
		observability.StatusUpdates.WithLabelValues("invalid").Inc()
		return false
	}
	if err := u.Writer.Write(ctx, id, feed.Fields{feed.StatusField: st}); err != nil {
		result := "error"
		var te *feed.TransportError
		switch {
		case errors.Is(err, feed.ErrUnknownRecord):
			result = "unknown"
		case errors.As(err, &te):
			result = "transport"
		}
		u.Logger.Warn("status update failed", "ride_id", id, "status", st, "error", err)
		observability.StatusUpdates.WithLabelValues(result).Inc()
		return false
	}
	u.Logger.Info("status updated", "ride_id", id, "status", st)
	observability.StatusUpdates.WithLabelValues("ok").Inc()
	return true
}
