package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

// ReportDepth publishes ready and deferred counts of every routed queue each
// interval until ctx ends.
func ReportDepth(ctx context.Context, broker adapter.Broker, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Debug().Dur("interval", interval).Msg("queue depth reporter started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleDepth(ctx, broker, logger)
		}
	}
}

func sampleDepth(ctx context.Context, broker adapter.Broker, logger *zerolog.Logger) {
	for _, q := range Queues() {
		ready, deferred, err := broker.Len(ctx, q)
		if err != nil {
			logger.Warn().Err(err).Str("queue", q).Msg("queue depth unavailable")
			continue
		}
		metrics.SetQueueDepth(q, ready, deferred)
	}
}
