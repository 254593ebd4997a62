package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	"invoice-ocr-pipeline/internal/infra/metrics"
	"invoice-ocr-pipeline/internal/usecase"
)

const reconcileLockKey = "lock:reconcile"

// Locker keeps concurrent processes from sweeping at the same time. A held lock
// is reported as domain.ErrConflict.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type ReconcilerConfig struct {
	// Cron is a standard five-field expression or a descriptor such as "@every 1m".
	Cron          string
	MaxProcessing time.Duration
	OrphanAfter   time.Duration
	Batch         int
}

// Report counts what one sweep did.
type Report struct {
	Requeued    int
	Failed      int
	Republished int
	Skipped     int
	// Waiting counts queued jobs still inside their retry delay.
	Waiting int
}

// ReconcileWorker takes back jobs whose worker went away: processing jobs with
// no write for MaxProcessing go through the retry policy as a transient failure,
// and queued jobs untouched for OrphanAfter past their retry delay are
// republished (or failed once their attempts are spent).
type ReconcileWorker struct {
	cfg       ReconcilerConfig
	schedule  cron.Schedule
	jobs      repository.JobRepository
	lifecycle usecase.LifecycleUseCase
	locker    Locker
	now       func() time.Time
	log       *zerolog.Logger
}

// NewReconcileWorker parses the schedule. locker may be nil for a single process.
func NewReconcileWorker(cfg ReconcilerConfig, jobs repository.JobRepository, lifecycle usecase.LifecycleUseCase, locker Locker, logger *zerolog.Logger) (*ReconcileWorker, error) {
	if cfg.Cron == "" {
		cfg.Cron = "@every 1m"
	}
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile cron %q: %v", domain.ErrInvalidArgument, cfg.Cron, err)
	}
	if cfg.MaxProcessing <= 0 {
		cfg.MaxProcessing = 30 * time.Minute
	}
	if cfg.OrphanAfter <= 0 {
		cfg.OrphanAfter = 10 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	l := logger.With().Str("component", "ReconcileWorker").Logger()
	return &ReconcileWorker{
		cfg:       cfg,
		schedule:  schedule,
		jobs:      jobs,
		lifecycle: lifecycle,
		locker:    locker,
		now:       time.Now,
		log:       &l,
	}, nil
}

// SetClock replaces the clock used for staleness cutoffs.
func (w *ReconcileWorker) SetClock(now func() time.Time) { w.now = now }

func (w *ReconcileWorker) Run(ctx context.Context) error {
	w.log.Info().Str("cron", w.cfg.Cron).Msg("Starting reconcile worker")
	for {
		next := w.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info().Msg("Stopping reconcile worker")
			return ctx.Err()
		case <-timer.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			rep, err := w.Tick(runCtx)
			cancel()
			if err != nil {
				w.log.Error().Err(err).Msg("reconcile sweep error")
			}
			if rep.Requeued+rep.Failed+rep.Republished > 0 {
				w.log.Info().
					Int("requeued", rep.Requeued).
					Int("failed", rep.Failed).
					Int("republished", rep.Republished).
					Msg("reconcile sweep finished")
			}
		}
	}
}

// Tick runs one sweep.
func (w *ReconcileWorker) Tick(ctx context.Context) (Report, error) {
	var rep Report
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLockKey, time.Minute)
		if errors.Is(err, domain.ErrConflict) {
			w.log.Debug().Msg("another process holds the reconcile lock")
			return rep, nil
		}
		if err != nil {
			return rep, fmt.Errorf("reconcile lock: %w", err)
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcileLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("reconcile unlock failed")
			}
		}()
	}

	if err := w.sweepProcessing(ctx, &rep); err != nil {
		return rep, err
	}
	if err := w.sweepQueued(ctx, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (w *ReconcileWorker) sweepProcessing(ctx context.Context, rep *Report) error {
	stuck, err := w.jobs.ListStale(ctx, repository.NoTX, model.JobStatusProcessing, w.now().Add(-w.cfg.MaxProcessing), w.cfg.Batch)
	if err != nil {
		return fmt.Errorf("list stuck jobs: %w", err)
	}
	for _, job := range stuck {
		cause := domain.Transient(fmt.Errorf("no progress for %s; worker presumed lost", w.cfg.MaxProcessing))
		decision, _, err := w.lifecycle.Fail(ctx, job, cause)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			rep.Skipped++
			continue
		default:
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("could not reconcile stuck job")
			continue
		}
		if decision.Action == usecase.ActionRequeue {
			rep.Requeued++
			metrics.IncReconciled("requeue")
		} else {
			rep.Failed++
			metrics.IncReconciled("terminal_fail")
		}
		w.log.Warn().
			Str("job_id", job.ID).
			Int("attempts", job.Attempts).
			Str("action", string(decision.Action)).
			Msg("stuck job reconciled")
	}
	return nil
}

func (w *ReconcileWorker) sweepQueued(ctx context.Context, rep *Report) error {
	orphans, err := w.jobs.ListStale(ctx, repository.NoTX, model.JobStatusQueued, w.now().Add(-w.cfg.OrphanAfter), w.cfg.Batch)
	if err != nil {
		return fmt.Errorf("list orphaned jobs: %w", err)
	}
	policy := w.lifecycle.Policy()
	maxAttempts := policy.MaxAttempts()
	now := w.now()
	for _, job := range orphans {
		if job.Attempts >= maxAttempts {
			reason := fmt.Sprintf("retries exhausted after %d attempts", job.Attempts)
			if job.ErrorMessage != "" {
				reason += ": " + job.ErrorMessage
			}
			_, err := w.lifecycle.Abort(ctx, job.ID, reason)
			switch {
			case err == nil:
				rep.Failed++
				metrics.IncReconciled("terminal_fail")
			case errors.Is(err, domain.ErrConflict):
				rep.Skipped++
			default:
				w.log.Error().Err(err).Str("job_id", job.ID).Msg("could not fail exhausted job")
			}
			continue
		}
		// A retried job has a deferred message of its own; it only counts as
		// orphaned once that delay plus the grace period has gone by.
		if job.Attempts > 0 && now.Before(job.UpdatedAt.Add(policy.Delay(job.Attempts)+w.cfg.OrphanAfter)) {
			rep.Waiting++
			continue
		}

		err := w.lifecycle.Republish(ctx, job)
		switch {
		case err == nil:
			rep.Republished++
			metrics.IncReconciled("republish")
			w.log.Info().Str("job_id", job.ID).Msg("orphaned job republished")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			rep.Skipped++
		default:
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("could not republish orphaned job")
		}
	}
	return nil
}
