package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(extractCallsLatencyMs, extractConfidence, extractInFlight)
}

var (
	extractCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extract_calls_latency_ms",
			Help:    "Extraction provider call latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"provider", "model", "success"},
	)

	extractConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extract_confidence",
			Help:    "Confidence reported for successful extractions.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"provider"},
	)

	extractInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "extract_in_flight",
			Help: "Extraction calls currently holding a concurrency slot.",
		},
		[]string{"provider"},
	)
)

func ObserveExtraction(provider, model string, latencyMs int64, confidence float64, success bool) {
	extractCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
	if success {
		extractConfidence.WithLabelValues(norm(provider)).Observe(confidence)
	}
}

func AddExtractInFlight(provider string, delta float64) {
	extractInFlight.WithLabelValues(norm(provider)).Add(delta)
}
