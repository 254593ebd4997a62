package ai

import (
	"context"
	"fmt"
	"time"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ adapter.Extractor = (*limitedExtractor)(nil)

// WindowLimiter is a shared fixed-window call budget, usually Redis backed.
type WindowLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit caps provider calls per window across every process.
type RateLimit struct {
	Limiter WindowLimiter
	Limit   int
	Window  time.Duration
	Key     func(provider string, window time.Duration, now time.Time) string
}

type limitedExtractor struct {
	inner    adapter.Extractor
	provider string
	sem      chan struct{}
	rate     *RateLimit
}

// NewLimitedExtractor bounds concurrent calls to inner. A nil rate skips the
// shared budget check.
func NewLimitedExtractor(inner adapter.Extractor, provider string, maxConcurrent int, rate *RateLimit) adapter.Extractor {
	if maxConcurrent <= 0 && rate == nil {
		return inner
	}
	l := &limitedExtractor{inner: inner, provider: provider, rate: rate}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedExtractor) Extract(ctx context.Context, payloadRef string) (*adapter.Extraction, error) {
	if l.rate != nil {
		key := l.rate.Key(l.provider, l.rate.Window, time.Now())
		ok, err := l.rate.Limiter.Allow(ctx, key, l.rate.Limit, l.rate.Window)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			return nil, domain.Transient(fmt.Errorf("%s: rate limit of %d per %s reached", l.provider, l.rate.Limit, l.rate.Window))
		}
	}

	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-l.sem }()
	}

	metrics.AddExtractInFlight(l.provider, 1)
	defer metrics.AddExtractInFlight(l.provider, -1)
	return l.inner.Extract(ctx, payloadRef)
}
