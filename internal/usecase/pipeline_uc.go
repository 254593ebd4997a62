package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

// Compile-time check
var _ PipelineUseCase = (*pipelineUC)(nil)

// PipelineUseCase is the submission and status boundary used by the web layer.
type PipelineUseCase interface {
	// Submit creates a queued job and publishes it. It does not wait for the job
	// to run.
	Submit(ctx context.Context, kind model.JobKind, payloadRef string) (string, error)
	// SubmitBatch submits one job per reference. A failed reference does not
	// stop the rest; every reference gets its own result, in input order.
	SubmitBatch(ctx context.Context, kind model.JobKind, payloadRefs []string) []SubmitResult
	Status(ctx context.Context, id string) (*model.Job, error)
	// Cancel fails a queued job with error_message "cancelled". It returns false
	// when the job already left the queued state.
	Cancel(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error)
}

// SubmitResult is the outcome of one reference in a batch. JobID may be set
// alongside Err when the job was created but could not be queued.
type SubmitResult struct {
	PayloadRef string
	JobID      string
	Err        error
}

type pipelineUC struct {
	jobs      repository.JobRepository
	lifecycle LifecycleUseCase
	publisher adapter.Publisher
	log       *zerolog.Logger
}

func NewPipelineUseCase(jobs repository.JobRepository, lifecycle LifecycleUseCase, publisher adapter.Publisher, logger *zerolog.Logger) *pipelineUC {
	l := logger.With().Str("component", "Pipeline").Logger()
	return &pipelineUC{jobs: jobs, lifecycle: lifecycle, publisher: publisher, log: &l}
}

func (u *pipelineUC) Submit(ctx context.Context, kind model.JobKind, payloadRef string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrUnknownKind, kind)
	}
	payloadRef = strings.TrimSpace(payloadRef)
	if payloadRef == "" {
		return "", fmt.Errorf("%w: empty payload reference", domain.ErrValidation)
	}

	job, err := u.jobs.Create(ctx, repository.NoTX, kind, payloadRef)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := u.publisher.Publish(ctx, job); err != nil {
		// A queued row without a message would never run; fail it instead.
		reason := "enqueue failed: " + err.Error()
		if _, abortErr := u.lifecycle.Abort(ctx, job.ID, reason); abortErr != nil {
			u.log.Error().Err(abortErr).Str("job_id", job.ID).Msg("could not fail unpublished job; left for orphan sweep")
		}
		return job.ID, fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	u.log.Info().Str("job_id", job.ID).Str("kind", string(kind)).Msg("job submitted")
	return job.ID, nil
}

func (u *pipelineUC) Status(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.jobs.Get(ctx, repository.NoTX, id)
}

func (u *pipelineUC) SubmitBatch(ctx context.Context, kind model.JobKind, payloadRefs []string) []SubmitResult {
	results := make([]SubmitResult, 0, len(payloadRefs))
	failed := 0
	for _, ref := range payloadRefs {
		id, err := u.Submit(ctx, kind, ref)
		if err != nil {
			failed++
		}
		results = append(results, SubmitResult{PayloadRef: ref, JobID: id, Err: err})
	}
	u.log.Info().
		Str("kind", string(kind)).
		Int("total", len(payloadRefs)).
		Int("failed", failed).
		Msg("batch submitted")
	return results
}

func (u *pipelineUC) Cancel(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, domain.ErrInvalidArgument
	}
	_, err := u.lifecycle.Abort(ctx, id, model.CancelledMessage)
	switch {
	case err == nil:
		u.log.Info().Str("job_id", id).Msg("job cancelled")
		return true, nil
	case errors.Is(err, domain.ErrConflict):
		return false, nil
	default:
		return false, err
	}
}

func (u *pipelineUC) List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrValidation, f.Status)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", domain.ErrValidation, f.Kind)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return u.jobs.List(ctx, repository.NoTX, f)
}
