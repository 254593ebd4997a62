package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, kind, status, attempts, progress, error_message, payload_ref,
  result_ref, result_confidence, result_duration_ms, started_at, completed_at, created_at, updated_at`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, kind model.JobKind, payloadRef string) (*model.Job, error) {
	job, err := model.NewJob(uuid.NewString(), kind, payloadRef)
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO jobs (id, kind, status, attempts, progress, error_message, payload_ref)
VALUES ($1, $2, 'queued', 0, 0, '', $3)
RETURNING ` + jobColumns

	row, err := pickRow(ctx, r.pool, tx, q, job.ID, string(job.Kind), job.PayloadRef)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// Transition is a single conditional UPDATE. The WHERE clause carries the
// compare-and-set guard, so concurrent claims serialize on the row lock and all
// but one see zero affected rows.
func (r *jobRepo) Transition(ctx context.Context, tx repository.Tx, id string, cond repository.JobCondition, upd repository.JobUpdate) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	const q = `
UPDATE jobs SET
  status             = COALESCE(NULLIF($2, ''), status),
  attempts           = attempts + CASE WHEN $3 THEN 1 ELSE 0 END,
  progress           = CASE
                         WHEN $4::int IS NULL THEN progress
                         WHEN status = 'processing' AND COALESCE(NULLIF($2, ''), status) = 'processing'
                           THEN GREATEST(progress, $4::int)
                         ELSE $4::int
                       END,
  error_message      = COALESCE($5, error_message),
  result_ref         = COALESCE(result_ref, $6),
  result_confidence  = CASE WHEN result_ref IS NULL THEN $7 ELSE result_confidence END,
  result_duration_ms = CASE WHEN result_ref IS NULL THEN $8 ELSE result_duration_ms END,
  started_at         = CASE WHEN $9 THEN COALESCE(started_at, now()) ELSE started_at END,
  completed_at       = CASE WHEN $10 THEN now() ELSE completed_at END,
  updated_at         = now()
WHERE id = $1
  AND status = $11
  AND ($12 = 0 OR attempts = $12)
  AND ($13 = 0 OR attempts < $13)
  AND ($14::timestamptz IS NULL OR updated_at <= $14)
RETURNING ` + jobColumns

	var (
		resRef  *string
		resConf *float64
		resDur  *int64
	)
	if upd.Result != nil {
		ref, conf, dur := upd.Result.Ref, upd.Result.Confidence, upd.Result.ProcessingTime.Milliseconds()
		resRef, resConf, resDur = &ref, &conf, &dur
	}
	var updatedBefore *time.Time
	if !cond.UpdatedBefore.IsZero() {
		updatedBefore = &cond.UpdatedBefore
	}

	row, err := pickRow(ctx, r.pool, tx, q,
		id, string(upd.Status), upd.IncAttempts, upd.Progress, upd.ErrorMessage,
		resRef, resConf, resDur, upd.MarkStarted, upd.MarkCompleted,
		string(cond.Status), cond.Attempt, cond.MaxAttempts, updatedBefore)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		exists, exErr := r.exists(ctx, tx, id)
		if exErr != nil {
			return nil, exErr
		}
		if exists {
			return nil, domain.ErrConflict
		}
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *jobRepo) exists(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, translate(err)
	}
	return ok, nil
}

func (r *jobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) List(ctx context.Context, tx repository.Tx, f repository.JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryJobs(ctx, tx, q, args...)
}

func (r *jobRepo) ListStale(ctx context.Context, tx repository.Tx, status model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at
LIMIT $3`
	return r.queryJobs(ctx, tx, q, string(status), before, limit)
}

func (r *jobRepo) queryJobs(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := querySQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j               model.Job
		kind, status    string
		resRef          *string
		resConf         *float64
		resDur          *int64
		started, closed *time.Time
	)
	err := row.Scan(&j.ID, &kind, &status, &j.Attempts, &j.Progress, &j.ErrorMessage, &j.PayloadRef,
		&resRef, &resConf, &resDur, &started, &closed, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, translate(err)
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.StartedAt, j.CompletedAt = started, closed
	if resRef != nil {
		j.Result = &model.Result{Ref: *resRef}
		if resConf != nil {
			j.Result.Confidence = *resConf
		}
		if resDur != nil {
			j.Result.ProcessingTime = time.Duration(*resDur) * time.Millisecond
		}
	}
	return &j, nil
}
