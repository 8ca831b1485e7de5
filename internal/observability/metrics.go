package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_notifier"

var (
	LiveEvents          = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "live_events_total", Help: "Live ride events applied, by kind"}, []string{"kind"})
	DuplicatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "duplicates_discarded_total", Help: "Created events discarded because the ride was already seen"})
	MalformedRecords    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "malformed_records_total", Help: "Records dropped for missing or invalid fields, by source"}, []string{"source"})
	StaleEvents         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "stale_events_total", Help: "Events delivered after the session was stopped"})

	SnapshotsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "snapshots_total", Help: "Snapshot reads by result"}, []string{"result"})
	SnapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "snapshot_records", Help: "Records in the last successful snapshot"})
	SnapshotLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "snapshot_latency_seconds", Help: "Snapshot read latency seconds"})
	ViewSize        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "view_rides", Help: "Rides currently in the view"})

	NotificationsSent    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_sent_total", Help: "Notifications delivered, by dispatcher"}, []string{"dispatcher"})
	NotificationErrors   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notification_errors_total", Help: "Notification delivery failures, by dispatcher"}, []string{"dispatcher"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Notifications dropped because the dispatch queue was full"})
	NewRides             = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "new_rides_total", Help: "Rides accepted as new and forwarded for notification"})

	StatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "status_updates_total", Help: "Status writes by result"}, []string{"result"})

	StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "stream_errors_total", Help: "Live stream read errors, by transport"}, []string{"transport"})

	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "relay_messages_total", Help: "Relayed ride events by result"}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
