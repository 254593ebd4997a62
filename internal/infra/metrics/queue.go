package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queuePublishTotal, queueDepth) }

var (
	queuePublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_publish_total",
			Help: "Messages published per queue, labeled by result.",
		},
		[]string{"queue", "result"}, // result: 'ok', 'error'
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Messages waiting per queue.",
		},
		[]string{"queue", "state"}, // state: 'ready', 'deferred'
	)
)

func IncPublish(queue string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	queuePublishTotal.WithLabelValues(queue, result).Inc()
}

func SetQueueDepth(queue string, ready, deferred int64) {
	queueDepth.WithLabelValues(queue, "ready").Set(float64(ready))
	queueDepth.WithLabelValues(queue, "deferred").Set(float64(deferred))
}
