package repository

import (
	"context"
	"time"

	"invoice-ocr-pipeline/internal/domain/model"
)

// JobCondition is the compare-and-set guard of a transition.
type JobCondition struct {
	Status model.JobStatus
	// Attempt, when > 0, requires attempts to equal it. Used to fence writes from
	// an attempt that the reconciler already took back.
	Attempt int
	// MaxAttempts, when > 0, requires attempts to be below it.
	MaxAttempts int
	// UpdatedBefore, when set, requires updated_at to be at or before it, so a
	// write based on a stale read loses to any write made since.
	UpdatedBefore time.Time
}

// JobUpdate lists the fields a transition writes. Nil pointers leave the column
// untouched.
type JobUpdate struct {
	Status        model.JobStatus
	IncAttempts   bool
	Progress      *int
	ErrorMessage  *string
	Result        *model.Result
	MarkStarted   bool // sets started_at only if still unset
	MarkCompleted bool
}

type JobFilter struct {
	Status model.JobStatus
	Kind   model.JobKind
	Limit  int
}

type JobRepository interface {
	Create(ctx context.Context, tx Tx, kind model.JobKind, payloadRef string) (*model.Job, error)
	// Transition atomically applies upd if the current row satisfies cond.
	// Returns domain.ErrNotFound for an unknown id and domain.ErrConflict when the
	// condition does not hold.
	Transition(ctx context.Context, tx Tx, id string, cond JobCondition, upd JobUpdate) (*model.Job, error)
	Get(ctx context.Context, tx Tx, id string) (*model.Job, error)
	List(ctx context.Context, tx Tx, f JobFilter) ([]*model.Job, error)
	// ListStale returns jobs in status whose last write is older than before,
	// oldest first.
	ListStale(ctx context.Context, tx Tx, status model.JobStatus, before time.Time, limit int) ([]*model.Job, error)
}

// Progress returns a pointer for JobUpdate.Progress.
func Progress(p int) *int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}

// Message returns a pointer for JobUpdate.ErrorMessage.
func Message(s string) *string { return &s }
