package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(notificationsTotal, announceFailuresTotal) }

var (
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications recorded for terminal job events.",
		},
		[]string{"job_kind", "kind"},
	)

	announceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_announce_failures_total",
			Help: "Failed attempts to publish a notification on the announce channel.",
		},
	)
)

func IncNotification(jobKind, kind string) {
	notificationsTotal.WithLabelValues(norm(jobKind), norm(kind)).Inc()
}

func IncAnnounceFailure() { announceFailuresTotal.Inc() }
