package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Extractor = (*NoopExtractor)(nil)
	_ adapter.Trainer   = (*NoopTrainer)(nil)
)

// NoopExtractor implements adapter.Extractor for local/dev runs.
// It returns canned fields after a short delay.
type NoopExtractor struct {
	delay      time.Duration
	confidence float64
	sink       Sink
	log        zerolog.Logger
}

func NewNoopExtractor(delay time.Duration, confidence float64, sink Sink, logger *zerolog.Logger) *NoopExtractor {
	return &NoopExtractor{
		delay:      delay,
		confidence: confidence,
		sink:       sink,
		log:        logger.With().Str("component", "noop_extractor").Logger(),
	}
}

func (n *NoopExtractor) Extract(ctx context.Context, payloadRef string) (*adapter.Extraction, error) {
	start := time.Now()
	select {
	case <-time.After(n.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ex := &adapter.Extraction{
		Confidence: n.confidence,
		Duration:   time.Since(start),
		Fields: map[string]string{
			"invoice_number": "INV-0001",
			"vendor_name":    "Noop Supplies",
			"total_amount":   "100.00",
			"currency":       "USD",
		},
		RawText: "noop extraction of " + payloadRef,
	}
	ref, err := n.sink.Save(ctx, payloadRef, ex)
	if err != nil {
		return nil, err
	}
	ex.ResultRef = ref
	n.log.Debug().Str("payload_ref", payloadRef).Str("result_ref", ref).Msg("noop extraction")
	return ex, nil
}

// NoopTrainer simulates a training run in a few progress steps.
type NoopTrainer struct {
	step time.Duration
}

func NewNoopTrainer(step time.Duration) *NoopTrainer {
	return &NoopTrainer{step: step}
}

func (n *NoopTrainer) Train(ctx context.Context, payloadRef string, progress adapter.ProgressFunc) (string, error) {
	for _, pct := range []int{25, 50, 75} {
		select {
		case <-time.After(n.step):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if err := progress(ctx, pct); err != nil {
			return "", err
		}
	}
	return "model://" + payloadRef, nil
}
