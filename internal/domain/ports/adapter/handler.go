package adapter

import (
	"context"
	"time"

	"invoice-ocr-pipeline/internal/domain/model"
)

// ProgressFunc reports a coarse milestone (0..100) for the running attempt.
type ProgressFunc func(ctx context.Context, pct int) error

// Handler executes one attempt of a job of a given kind.
type Handler interface {
	Handle(ctx context.Context, job *model.Job, progress ProgressFunc) (*model.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job, progress ProgressFunc) (*model.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job, progress ProgressFunc) (*model.Result, error) {
	return f(ctx, job, progress)
}

// Extraction is what an OCR/AI extractor returns for one document.
type Extraction struct {
	ResultRef  string
	Confidence float64
	Duration   time.Duration
	Fields     map[string]string
	RawText    string
}

// Extractor is the black-box OCR/AI extraction call. It may be slow and may fail.
type Extractor interface {
	Extract(ctx context.Context, payloadRef string) (*Extraction, error)
}

// Trainer runs a training routine for the referenced dataset.
type Trainer interface {
	Train(ctx context.Context, payloadRef string, progress ProgressFunc) (resultRef string, err error)
}

// Dispatcher hands a notification-kind job's payload to the delivery layer.
type Dispatcher interface {
	Dispatch(ctx context.Context, payloadRef string) error
}
