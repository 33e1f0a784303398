package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WaitlistTransitions counts state changes by target phase and reason
	WaitlistTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cca_waitlist_transitions_total",
			Help: "Waitlist entry state transitions",
		},
		[]string{"to", "reason"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cca_waitlist_sweep_duration_seconds",
			Help:    "Duration of promotion sweep runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// SweepEntries counts expired offers handled by the sweep, by result
	SweepEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cca_waitlist_sweep_entries_total",
			Help: "Expired offers processed by the promotion sweep",
		},
		[]string{"result"}, // processed or failed
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cca_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch buffer was full",
		},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cca_audit_transitions_dropped_total",
			Help: "Waitlist transitions not published because the audit buffer was full or closed",
		},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cca_notification_deliveries_total",
			Help: "Notification deliveries per sink and status",
		},
		[]string{"sink", "status"},
	)
)

func RecordTransition(to, reason string) {
	WaitlistTransitions.WithLabelValues(to, reason).Inc()
}

func RecordSweep(durationSeconds float64, processed, failed int) {
	SweepDuration.Observe(durationSeconds)
	SweepEntries.WithLabelValues("processed").Add(float64(processed))
	SweepEntries.WithLabelValues("failed").Add(float64(failed))
}

func RecordDelivery(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	NotificationDeliveries.WithLabelValues(sink, status).Inc()
}
