package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

// Compile-time check
var _ LifecycleUseCase = (*lifecycleUC)(nil)

// LifecycleUseCase owns every job state change after creation. Workers, the
// reconciler and the coordinator all go through it so the hand-off rules live
// in one place.
type LifecycleUseCase interface {
	// Claim moves a queued job to processing and counts the attempt. attempts is
	// the count the delivered message was published with; a message left over
	// from an earlier round no longer matches and is refused. Zero skips that
	// check. A lost race returns domain.ErrConflict.
	Claim(ctx context.Context, id string, attempts int) (*model.Job, error)
	// Progress records a milestone of the running attempt.
	Progress(ctx context.Context, job *model.Job, pct int) error
	// Complete finishes the running attempt successfully.
	Complete(ctx context.Context, job *model.Job, res *model.Result) (*model.Job, error)
	// Fail applies the retry policy to a failed attempt.
	Fail(ctx context.Context, job *model.Job, cause error) (Decision, *model.Job, error)
	// Abort fails a job that is still queued, e.g. on cancel.
	Abort(ctx context.Context, id, reason string) (*model.Job, error)
	// Republish re-sends the message of a job that is still queued. The write
	// refreshes updated_at so the orphan sweep leaves it alone for a while.
	Republish(ctx context.Context, job *model.Job) error
	Policy() RetryPolicy
}

type lifecycleUC struct {
	jobs      repository.JobRepository
	tm        repository.TransactionManager
	notifier  NotificationUseCase
	publisher adapter.Publisher
	policy    RetryPolicy
	log       *zerolog.Logger
}

func NewLifecycleUseCase(
	jobs repository.JobRepository,
	tm repository.TransactionManager,
	notifier NotificationUseCase,
	publisher adapter.Publisher,
	policy RetryPolicy,
	logger *zerolog.Logger,
) *lifecycleUC {
	l := logger.With().Str("component", "Lifecycle").Logger()
	return &lifecycleUC{
		jobs:      jobs,
		tm:        tm,
		notifier:  notifier,
		publisher: publisher,
		policy:    policy,
		log:       &l,
	}
}

func (u *lifecycleUC) Policy() RetryPolicy { return u.policy }

func (u *lifecycleUC) Claim(ctx context.Context, id string, attempts int) (*model.Job, error) {
	return u.jobs.Transition(ctx, repository.NoTX, id,
		repository.JobCondition{Status: model.JobStatusQueued, Attempt: attempts, MaxAttempts: u.policy.MaxAttempts()},
		repository.JobUpdate{
			Status:      model.JobStatusProcessing,
			IncAttempts: true,
			MarkStarted: true,
			Progress:    repository.Progress(0),
		})
}

func (u *lifecycleUC) Progress(ctx context.Context, job *model.Job, pct int) error {
	updated, err := u.jobs.Transition(ctx, repository.NoTX, job.ID,
		repository.JobCondition{Status: model.JobStatusProcessing, Attempt: job.Attempts},
		repository.JobUpdate{Status: model.JobStatusProcessing, Progress: repository.Progress(pct)})
	if err != nil {
		return err
	}
	job.Progress = updated.Progress
	job.UpdatedAt = updated.UpdatedAt
	return nil
}

func (u *lifecycleUC) Complete(ctx context.Context, job *model.Job, res *model.Result) (*model.Job, error) {
	if res == nil || res.Ref == "" {
		return nil, fmt.Errorf("%w: completion requires a result reference", domain.ErrInvalidArgument)
	}
	return u.finish(ctx, job.ID,
		repository.JobCondition{Status: model.JobStatusProcessing, Attempt: job.Attempts},
		repository.JobUpdate{
			Status:        model.JobStatusCompleted,
			Result:        res,
			Progress:      repository.Progress(100),
			ErrorMessage:  repository.Message(""),
			MarkCompleted: true,
		})
}

func (u *lifecycleUC) Fail(ctx context.Context, job *model.Job, cause error) (Decision, *model.Job, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	class := domain.Classify(cause)
	decision := u.policy.Decide(job, class)
	msg := cause.Error()
	if msg == "" {
		msg = string(class) + " failure"
	}
	cond := repository.JobCondition{
		Status:        model.JobStatusProcessing,
		Attempt:       job.Attempts,
		UpdatedBefore: job.UpdatedAt,
	}

	if decision.Action == ActionTerminalFail {
		failed, err := u.finish(ctx, job.ID, cond, repository.JobUpdate{
			Status:        model.JobStatusFailed,
			ErrorMessage:  repository.Message(msg),
			MarkCompleted: true,
		})
		return decision, failed, err
	}

	requeued, err := u.jobs.Transition(ctx, repository.NoTX, job.ID, cond, repository.JobUpdate{
		Status:       model.JobStatusQueued,
		ErrorMessage: repository.Message(msg),
		Progress:     repository.Progress(0),
	})
	if err != nil {
		return decision, nil, err
	}
	// The row is durably queued; a failed publish is recovered by the orphan sweep.
	if err := u.publisher.PublishAfter(ctx, requeued, decision.Delay); err != nil {
		u.log.Error().Err(err).Str("job_id", job.ID).Dur("delay", decision.Delay).Msg("requeue publish failed; left for orphan sweep")
	}
	return decision, requeued, nil
}

func (u *lifecycleUC) Abort(ctx context.Context, id, reason string) (*model.Job, error) {
	return u.finish(ctx, id,
		repository.JobCondition{Status: model.JobStatusQueued},
		repository.JobUpdate{
			Status:        model.JobStatusFailed,
			ErrorMessage:  repository.Message(reason),
			MarkCompleted: true,
		})
}

func (u *lifecycleUC) Republish(ctx context.Context, job *model.Job) error {
	touched, err := u.jobs.Transition(ctx, repository.NoTX, job.ID,
		repository.JobCondition{Status: model.JobStatusQueued, MaxAttempts: u.policy.MaxAttempts(), UpdatedBefore: job.UpdatedAt},
		repository.JobUpdate{})
	if err != nil {
		return err
	}
	return u.publisher.Publish(ctx, touched)
}

// finish writes a terminal transition and its notification in one transaction,
// then announces the notification.
func (u *lifecycleUC) finish(ctx context.Context, id string, cond repository.JobCondition, upd repository.JobUpdate) (*model.Job, error) {
	var (
		job   *model.Job
		note  *model.Notification
		fresh bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		job, err = u.jobs.Transition(ctx, tx, id, cond, upd)
		if err != nil {
			return err
		}
		note, fresh, err = u.notifier.Notify(ctx, tx, job)
		return err
	})
	if err != nil {
		return nil, err
	}
	if fresh {
		u.notifier.Announce(ctx, note)
	}
	return job, nil
}
