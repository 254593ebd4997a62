package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

// ResultStore keeps extraction output under "<prefix><uuid>". The key is the
// job's result reference.
type ResultStore struct {
	c      *Client
	prefix string
	ttl    time.Duration
}

type storedResult struct {
	PayloadRef string            `json:"payload_ref"`
	Fields     map[string]string `json:"fields"`
	RawText    string            `json:"raw_text,omitempty"`
	Confidence float64           `json:"confidence"`
	DurationMs int64             `json:"duration_ms"`
	StoredAt   time.Time         `json:"stored_at"`
}

// NewResultStore builds the store. ttl 0 keeps results forever.
func NewResultStore(c *Client, prefix string, ttl time.Duration) *ResultStore {
	if prefix == "" {
		prefix = "ocr_result:"
	}
	return &ResultStore{c: c, prefix: prefix, ttl: ttl}
}

func (s *ResultStore) Save(ctx context.Context, payloadRef string, ex *adapter.Extraction) (string, error) {
	body, err := json.Marshal(storedResult{
		PayloadRef: payloadRef,
		Fields:     ex.Fields,
		RawText:    ex.RawText,
		Confidence: ex.Confidence,
		DurationMs: ex.Duration.Milliseconds(),
		StoredAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	ref := s.prefix + uuid.NewString()
	if err := s.c.cli.Set(ctx, ref, body, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: save result: %v", domain.ErrStoreUnavailable, err)
	}
	return ref, nil
}

func (s *ResultStore) Get(ctx context.Context, ref string) (*adapter.Extraction, error) {
	body, err := s.c.cli.Get(ctx, ref).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r storedResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	return &adapter.Extraction{
		ResultRef:  ref,
		Confidence: r.Confidence,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		Fields:     r.Fields,
		RawText:    r.RawText,
	}, nil
}
