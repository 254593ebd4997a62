package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/logging"
	"invoice-ocr-pipeline/internal/infra/metrics"
	"invoice-ocr-pipeline/internal/usecase"
)

// Outcome is what happened to one delivered message.
type Outcome string

const (
	OutcomeDropped    Outcome = "dropped"  // not claimable (lost race, cancelled, unknown)
	OutcomeDeferred   Outcome = "deferred" // store unavailable at claim; message re-enqueued
	OutcomeCompleted  Outcome = "completed"
	OutcomeRequeued   Outcome = "requeued"   // failed attempt, retry scheduled
	OutcomeFailed     Outcome = "failed"     // terminal failure
	OutcomeSuperseded Outcome = "superseded" // the reconciler took the attempt back
	OutcomeStoreError Outcome = "store_error"
)

type ProcessorConfig struct {
	Queue string
	Kind  model.JobKind
	// Timeout bounds one handler invocation.
	Timeout time.Duration
	// DequeueWait bounds one blocking receive.
	DequeueWait time.Duration
	// StoreTimeout bounds each store write made outside the handler.
	StoreTimeout time.Duration
	// RedeliverAfter is the delay before a message whose claim hit an unavailable
	// store is offered again.
	RedeliverAfter time.Duration
	// ShowPayload logs payload references in full instead of redacted.
	ShowPayload bool
}

// Processor consumes one queue: claim, run the kind's handler, hand the result
// to the lifecycle.
type Processor struct {
	cfg       ProcessorConfig
	broker    adapter.Broker
	lifecycle usecase.LifecycleUseCase
	handler   adapter.Handler
	log       *zerolog.Logger
}

func NewProcessor(cfg ProcessorConfig, broker adapter.Broker, lifecycle usecase.LifecycleUseCase, handler adapter.Handler, logger *zerolog.Logger) *Processor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = 2 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.RedeliverAfter <= 0 {
		cfg.RedeliverAfter = 5 * time.Second
	}
	l := logger.With().Str("component", "JobProcessor").Str("queue", cfg.Queue).Logger()
	return &Processor{cfg: cfg, broker: broker, lifecycle: lifecycle, handler: handler, log: &l}
}

// Run is a Pool loop: it blocks on the queue until ctx is cancelled.
func (p *Processor) Run(ctx, work context.Context, worker int) {
	work = logging.WithQueue(logging.WithWorker(work, worker), p.cfg.Queue)
	for ctx.Err() == nil {
		msg, err := p.broker.Dequeue(ctx, p.cfg.Queue, p.cfg.DequeueWait)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrQueueEmpty), ctx.Err() != nil:
			default:
				p.log.Error().Err(err).Int("worker", worker).Msg("dequeue failed")
				sleep(ctx, time.Second)
			}
			continue
		}
		p.Process(work, *msg)
	}
}

// Process handles one delivered message.
func (p *Processor) Process(work context.Context, msg adapter.Message) Outcome {
	ctx := logging.WithJobID(work, msg.JobID)
	log := logging.With(ctx, p.log)

	job, err := p.claim(msg.JobID, msg.Attempt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		metrics.IncClaimConflict(string(msg.Kind))
		log.Debug().Err(err).Msg("message dropped; job not claimable")
		return OutcomeDropped
	default:
		log.Warn().Err(err).Dur("redeliver_after", p.cfg.RedeliverAfter).Msg("claim failed; redelivering")
		if rerr := p.broker.EnqueueAfter(context.WithoutCancel(ctx), p.cfg.Queue, msg, p.cfg.RedeliverAfter); rerr != nil {
			log.Error().Err(rerr).Msg("redelivery failed; left for orphan sweep")
		}
		return OutcomeDeferred
	}
	metrics.IncJobTransition(string(job.Kind), string(model.JobStatusProcessing))
	log.Info().Int("attempt", job.Attempts).
		Str("payload_ref", logging.Redact(job.PayloadRef, p.cfg.ShowPayload)).
		Msg("job claimed")

	start := time.Now()
	res, herr := p.invoke(ctx, job)
	took := time.Since(start)

	if herr == nil {
		done, err := p.complete(job, res)
		switch {
		case err == nil:
			metrics.ObserveAttempt(string(job.Kind), "success", took)
			metrics.IncJobTransition(string(job.Kind), string(model.JobStatusCompleted))
			log.Info().Dur("duration", took).Str("result_ref", done.Result.Ref).Msg("job completed")
			return OutcomeCompleted
		case errors.Is(err, domain.ErrConflict):
			log.Warn().Int("attempt", job.Attempts).Msg("completion discarded; attempt was taken back")
			return OutcomeSuperseded
		default:
			log.Error().Err(err).Msg("could not record completion; reconciler will retry the job")
			return OutcomeStoreError
		}
	}

	metrics.ObserveAttempt(string(job.Kind), "failure", took)
	decision, _, err := p.fail(job, herr)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		log.Warn().Err(herr).Int("attempt", job.Attempts).Msg("failure discarded; attempt was taken back")
		return OutcomeSuperseded
	default:
		log.Error().Err(err).AnErr("cause", herr).Msg("could not record failure; reconciler will retry the job")
		return OutcomeStoreError
	}

	if decision.Action == usecase.ActionRequeue {
		metrics.IncJobTransition(string(job.Kind), "requeued")
		log.Warn().Err(herr).Int("attempt", job.Attempts).Dur("delay", decision.Delay).Msg("job attempt failed; requeued")
		return OutcomeRequeued
	}
	metrics.IncJobTransition(string(job.Kind), string(model.JobStatusFailed))
	log.Error().Err(herr).Int("attempt", job.Attempts).Str("reason", decision.Reason).Msg("job failed")
	return OutcomeFailed
}

// invoke runs the handler under the queue timeout. Panics and an empty result
// become errors.
func (p *Processor) invoke(ctx context.Context, job *model.Job) (res *model.Result, err error) {
	hctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.With(ctx, p.log).Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("handler panicked")
			res, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	progress := func(_ context.Context, pct int) error {
		sctx, scancel := p.storeCtx()
		defer scancel()
		return p.lifecycle.Progress(sctx, job, pct)
	}

	res, err = p.handler.Handle(hctx, job, progress)
	if err != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("handler timed out after %s: %w (%v)", p.cfg.Timeout, context.DeadlineExceeded, err)
		}
		return nil, err
	}
	if res == nil || res.Ref == "" {
		return nil, domain.Permanentf("handler returned no result")
	}
	return res, nil
}

func (p *Processor) claim(id string, attempts int) (*model.Job, error) {
	ctx, cancel := p.storeCtx()
	defer cancel()
	return p.lifecycle.Claim(ctx, id, attempts)
}

func (p *Processor) complete(job *model.Job, res *model.Result) (*model.Job, error) {
	ctx, cancel := p.storeCtx()
	defer cancel()
	return p.lifecycle.Complete(ctx, job, res)
}

func (p *Processor) fail(job *model.Job, cause error) (usecase.Decision, *model.Job, error) {
	ctx, cancel := p.storeCtx()
	defer cancel()
	return p.lifecycle.Fail(ctx, job, cause)
}

// storeCtx is detached from shutdown so a finished attempt is always recorded.
func (p *Processor) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.cfg.StoreTimeout)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
