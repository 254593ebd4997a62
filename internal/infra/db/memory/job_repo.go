package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	db *DB
}

func NewJobRepo(db *DB) *jobRepo {
	return &jobRepo{db: db}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, kind model.JobKind, payloadRef string) (*model.Job, error) {
	job, err := model.NewJob(uuid.NewString(), kind, payloadRef)
	if err != nil {
		return nil, err
	}
	unlock := r.db.lock(tx)
	defer unlock()
	now := r.db.now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.db.jobs[job.ID] = job
	return job.Clone(), nil
}

func (r *jobRepo) Transition(ctx context.Context, tx repository.Tx, id string, cond repository.JobCondition, upd repository.JobUpdate) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.db.lock(tx)
	defer unlock()

	job, ok := r.db.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !matches(job, cond) {
		return nil, domain.ErrConflict
	}
	apply(job, upd, r.db.now())
	return job.Clone(), nil
}

func (r *jobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	job, ok := r.db.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *jobRepo) List(ctx context.Context, tx repository.Tx, f repository.JobFilter) ([]*model.Job, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	out := make([]*model.Job, 0)
	for _, j := range r.db.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Kind != "" && j.Kind != f.Kind {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *jobRepo) ListStale(ctx context.Context, tx repository.Tx, status model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	out := make([]*model.Job, 0)
	for _, j := range r.db.jobs {
		if j.Status == status && j.UpdatedAt.Before(before) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(j *model.Job, c repository.JobCondition) bool {
	if j.Status != c.Status {
		return false
	}
	if c.Attempt > 0 && j.Attempts != c.Attempt {
		return false
	}
	if c.MaxAttempts > 0 && j.Attempts >= c.MaxAttempts {
		return false
	}
	if !c.UpdatedBefore.IsZero() && j.UpdatedAt.After(c.UpdatedBefore) {
		return false
	}
	return true
}

func apply(j *model.Job, u repository.JobUpdate, now time.Time) {
	prev := j.Status
	if u.Status != "" {
		j.Status = u.Status
	}
	if u.IncAttempts {
		j.Attempts++
	}
	if u.Progress != nil {
		p := *u.Progress
		if prev == model.JobStatusProcessing && j.Status == model.JobStatusProcessing && p < j.Progress {
			p = j.Progress
		}
		j.Progress = p
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = *u.ErrorMessage
	}
	if u.Result != nil && j.Result == nil {
		r := *u.Result
		j.Result = &r
	}
	if u.MarkStarted && j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	if u.MarkCompleted {
		t := now
		j.CompletedAt = &t
	}
	j.UpdatedAt = now
}
