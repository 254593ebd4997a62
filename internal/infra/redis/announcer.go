package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

// Announcement types and their channels.
const (
	TypeOCRCompleted = "ocr_completed"
	TypeOCRFailed    = "ocr_failed"
	TypeAITraining   = "ai_training"
	TypeSystem       = "system"
)

var channels = map[string]string{
	TypeOCRCompleted: "notifications:ocr:completed",
	TypeOCRFailed:    "notifications:ocr:failed",
	TypeAITraining:   "notifications:ai:training",
	TypeSystem:       "notifications:system",
}

// Announcement is the JSON published on a channel and kept in its history.
type Announcement struct {
	Type           string    `json:"type"`
	NotificationID string    `json:"notification_id"`
	JobID          string    `json:"job_id"`
	JobKind        string    `json:"job_kind"`
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

var _ adapter.Announcer = (*Announcer)(nil)

type Announcer struct {
	cli        *redis.Client
	historyLen int64
	log        *zerolog.Logger
}

func NewAnnouncer(c *Client, historyLen int64, logger *zerolog.Logger) *Announcer {
	if historyLen <= 0 {
		historyLen = 100
	}
	l := logger.With().Str("component", "Announcer").Logger()
	return &Announcer{cli: c.cli, historyLen: historyLen, log: &l}
}

// TypeFor picks the announcement type of a notification.
func TypeFor(n *model.Notification) string {
	switch {
	case n.JobKind == model.JobKindOCRExtraction && n.Kind == model.NotificationKindSuccess:
		return TypeOCRCompleted
	case n.JobKind == model.JobKindOCRExtraction:
		return TypeOCRFailed
	case n.JobKind == model.JobKindAITraining:
		return TypeAITraining
	}
	return TypeSystem
}

func historyKey(typ string) string { return "notification_history:" + typ }

func (a *Announcer) Announce(ctx context.Context, n *model.Notification) error {
	typ := TypeFor(n)
	payload, err := json.Marshal(Announcement{
		Type:           typ,
		NotificationID: n.ID,
		JobID:          n.JobID,
		JobKind:        string(n.JobKind),
		Success:        n.Kind == model.NotificationKindSuccess,
		Message:        n.Message,
		Timestamp:      n.CreatedAt.UTC(),
	})
	if err != nil {
		return err
	}

	metrics.IncNotification(string(n.JobKind), string(n.Kind))
	if err := a.publish(ctx, typ, payload); err != nil {
		metrics.IncAnnounceFailure()
		return fmt.Errorf("announce %s: %w", n.ID, err)
	}
	a.log.Debug().Str("channel", channels[typ]).Str("job_id", n.JobID).Msg("notification announced")
	return nil
}

// History returns up to limit most recent announcements of typ, newest first.
func (a *Announcer) History(ctx context.Context, typ string, limit int64) ([]Announcement, error) {
	if _, ok := channels[typ]; !ok {
		return nil, fmt.Errorf("%w: unknown announcement type %q", domain.ErrNotFound, typ)
	}
	if limit <= 0 {
		limit = 20
	}
	raw, err := a.cli.LRange(ctx, historyKey(typ), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Announcement, 0, len(raw))
	for _, r := range raw {
		var an Announcement
		if err := json.Unmarshal([]byte(r), &an); err != nil {
			a.log.Warn().Err(err).Str("type", typ).Msg("skipping malformed history entry")
			continue
		}
		out = append(out, an)
	}
	return out, nil
}

var _ adapter.Dispatcher = (*Announcer)(nil)

// Dispatch runs a notification-kind job: the referenced payload is broadcast on
// the system channel and recorded in its history.
func (a *Announcer) Dispatch(ctx context.Context, payloadRef string) error {
	payload, err := json.Marshal(Announcement{
		Type:      TypeSystem,
		Success:   true,
		Message:   payloadRef,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return a.publish(ctx, TypeSystem, payload)
}

// publish sends payload on the channel of typ and keeps the last historyLen
// payloads in its history list.
func (a *Announcer) publish(ctx context.Context, typ string, payload []byte) error {
	_, err := a.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, channels[typ], payload)
		p.LPush(ctx, historyKey(typ), payload)
		p.LTrim(ctx, historyKey(typ), 0, a.historyLen-1)
		return nil
	})
	return err
}
