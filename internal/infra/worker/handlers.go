package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

// OCR progress milestones.
const (
	ProgressStarted    = 10
	ProgressExtracting = 40
	ProgressSaving     = 80
)

// Handlers maps each job kind to the handler that runs it.
type Handlers map[model.JobKind]adapter.Handler

// For returns the handler of kind or domain.ErrNoHandler.
func (h Handlers) For(kind model.JobKind) (adapter.Handler, error) {
	handler, ok := h[kind]
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, kind)
	}
	return handler, nil
}

// NewHandlers wires the extractor, trainer and dispatcher into the three kinds.
func NewHandlers(ex adapter.Extractor, tr adapter.Trainer, d adapter.Dispatcher, logger *zerolog.Logger) Handlers {
	return Handlers{
		model.JobKindOCRExtraction: NewOCRHandler(ex, logger),
		model.JobKindAITraining:    NewTrainingHandler(tr),
		model.JobKindNotification:  NewDispatchHandler(d),
	}
}

type ocrHandler struct {
	extractor adapter.Extractor
	log       *zerolog.Logger
}

func NewOCRHandler(ex adapter.Extractor, logger *zerolog.Logger) adapter.Handler {
	l := logger.With().Str("component", "OCRHandler").Logger()
	return &ocrHandler{extractor: ex, log: &l}
}

func (h *ocrHandler) Handle(ctx context.Context, job *model.Job, progress adapter.ProgressFunc) (*model.Result, error) {
	start := time.Now()
	if err := progress(ctx, ProgressStarted); err != nil {
		return nil, err
	}
	if err := progress(ctx, ProgressExtracting); err != nil {
		return nil, err
	}
	ex, err := h.extractor.Extract(ctx, job.PayloadRef)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if ex == nil || ex.ResultRef == "" {
		return nil, domain.Permanentf("extractor returned no result for %s", job.PayloadRef)
	}
	if err := progress(ctx, ProgressSaving); err != nil {
		return nil, err
	}

	took := ex.Duration
	if took <= 0 {
		took = time.Since(start)
	}
	h.log.Debug().
		Str("job_id", job.ID).
		Float64("confidence", ex.Confidence).
		Int("fields", len(ex.Fields)).
		Dur("took", took).
		Msg("extraction finished")
	return &model.Result{Ref: ex.ResultRef, Confidence: ex.Confidence, ProcessingTime: took}, nil
}

type trainingHandler struct {
	trainer adapter.Trainer
}

func NewTrainingHandler(tr adapter.Trainer) adapter.Handler {
	return &trainingHandler{trainer: tr}
}

func (h *trainingHandler) Handle(ctx context.Context, job *model.Job, progress adapter.ProgressFunc) (*model.Result, error) {
	start := time.Now()
	if err := progress(ctx, ProgressStarted); err != nil {
		return nil, err
	}
	ref, err := h.trainer.Train(ctx, job.PayloadRef, progress)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	return &model.Result{Ref: ref, Confidence: 1, ProcessingTime: time.Since(start)}, nil
}

type dispatchHandler struct {
	dispatcher adapter.Dispatcher
}

func NewDispatchHandler(d adapter.Dispatcher) adapter.Handler {
	return &dispatchHandler{dispatcher: d}
}

// Handle forwards the payload; the payload reference doubles as the result.
func (h *dispatchHandler) Handle(ctx context.Context, job *model.Job, _ adapter.ProgressFunc) (*model.Result, error) {
	start := time.Now()
	if err := h.dispatcher.Dispatch(ctx, job.PayloadRef); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return &model.Result{Ref: job.PayloadRef, Confidence: 1, ProcessingTime: time.Since(start)}, nil
}
