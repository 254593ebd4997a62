package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobTransitionsTotal, jobAttemptDuration, jobClaimConflictsTotal, jobsReconciledTotal)
}

var (
	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_transitions_total",
			Help: "Job status transitions, labeled by kind and target status.",
		},
		[]string{"kind", "status"}, // 'processing', 'completed', 'failed', 'requeued'
	)

	jobAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobs_attempt_duration_seconds",
			Help:    "Handler wall time per attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"kind", "outcome"},
	)

	jobClaimConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_claim_conflicts_total",
			Help: "Deliveries dropped because the job was not claimable.",
		},
		[]string{"kind"},
	)

	jobsReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_reconciled_total",
			Help: "Jobs taken back by the reconciler, labeled by action.",
		},
		[]string{"action"}, // 'requeue', 'terminal_fail', 'republish'
	)
)

func IncJobTransition(kind, status string) {
	jobTransitionsTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func ObserveAttempt(kind, outcome string, d time.Duration) {
	jobAttemptDuration.WithLabelValues(norm(kind), norm(outcome)).Observe(d.Seconds())
}

func IncClaimConflict(kind string) {
	jobClaimConflictsTotal.WithLabelValues(norm(kind)).Inc()
}

func IncReconciled(action string) {
	jobsReconciledTotal.WithLabelValues(norm(action)).Inc()
}
