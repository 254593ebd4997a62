package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

// DefaultLowConfidence marks OCR results that deserve a review hint.
const DefaultLowConfidence = 0.7

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// Notify records the notification for job's terminal status. It is idempotent
	// per (job, outcome): a repeat returns the existing record with created=false.
	Notify(ctx context.Context, tx repository.Tx, job *model.Job) (n *model.Notification, created bool, err error)
	// Announce broadcasts an already recorded notification. Errors are logged only.
	Announce(ctx context.Context, n *model.Notification)

	// Delivery boundary.
	ListPending(ctx context.Context, limit int) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type notificationUC struct {
	repo          repository.NotificationRepository
	announcer     adapter.Announcer
	lowConfidence float64
	log           *zerolog.Logger
}

// NewNotificationUseCase builds the notifier. announcer may be nil.
func NewNotificationUseCase(repo repository.NotificationRepository, announcer adapter.Announcer, lowConfidence float64, logger *zerolog.Logger) *notificationUC {
	if lowConfidence <= 0 {
		lowConfidence = DefaultLowConfidence
	}
	l := logger.With().Str("component", "Notifier").Logger()
	return &notificationUC{repo: repo, announcer: announcer, lowConfidence: lowConfidence, log: &l}
}

func (u *notificationUC) Notify(ctx context.Context, tx repository.Tx, job *model.Job) (*model.Notification, bool, error) {
	kind, ok := model.OutcomeFor(job.Status)
	if !ok {
		return nil, false, fmt.Errorf("%w: job %s is %s, not terminal", domain.ErrInvalidArgument, job.ID, job.Status)
	}
	now := time.Now()
	n := &model.Notification{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		JobKind:   job.Kind,
		Kind:      kind,
		Status:    model.NotificationStatusPending,
		Message:   u.message(job),
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, created, err := u.repo.Create(ctx, tx, n)
	if err != nil {
		return nil, false, fmt.Errorf("record notification: %w", err)
	}
	if !created {
		u.log.Warn().Str("job_id", job.ID).Str("kind", string(kind)).Msg("duplicate terminal notification suppressed")
	}
	return stored, created, nil
}

func (u *notificationUC) Announce(ctx context.Context, n *model.Notification) {
	if u.announcer == nil || n == nil {
		return
	}
	if err := u.announcer.Announce(ctx, n); err != nil {
		u.log.Warn().Err(err).Str("notification_id", n.ID).Msg("announce failed; record stays pending")
	}
}

func (u *notificationUC) ListPending(ctx context.Context, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	return u.repo.ListPending(ctx, repository.NoTX, limit)
}

func (u *notificationUC) MarkSent(ctx context.Context, id string) error {
	return u.repo.MarkSent(ctx, repository.NoTX, id)
}

func (u *notificationUC) MarkFailed(ctx context.Context, id, reason string) error {
	return u.repo.MarkFailed(ctx, repository.NoTX, id, reason)
}

func (u *notificationUC) message(job *model.Job) string {
	if job.Status == model.JobStatusFailed {
		return fmt.Sprintf("%s failed: %s", kindLabel(job.Kind), job.ErrorMessage)
	}
	if job.Kind != model.JobKindOCRExtraction || job.Result == nil {
		return fmt.Sprintf("%s completed", kindLabel(job.Kind))
	}
	r := job.Result
	took := r.ProcessingTime.Round(100 * time.Millisecond)
	if r.Confidence < u.lowConfidence {
		return fmt.Sprintf("OCR processing completed with low confidence (%.1f%%) in %s", r.Confidence*100, took)
	}
	return fmt.Sprintf("OCR processing completed with %.1f%% confidence in %s", r.Confidence*100, took)
}

func kindLabel(k model.JobKind) string {
	switch k {
	case model.JobKindOCRExtraction:
		return "OCR processing"
	case model.JobKindAITraining:
		return "AI training"
	case model.JobKindNotification:
		return "Notification dispatch"
	}
	return string(k)
}
