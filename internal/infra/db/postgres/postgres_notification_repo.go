package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var _ repository.NotificationRepository = (*notificationRepo)(nil)

type notificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *notificationRepo {
	return &notificationRepo{pool: pool}
}

const notificationColumns = `id, job_id, job_kind, kind, status, message, last_error, created_at, updated_at`

func (r *notificationRepo) Create(ctx context.Context, tx repository.Tx, n *model.Notification) (*model.Notification, bool, error) {
	// The UNIQUE (job_id, kind) constraint is the dedupe key; a lost race
	// falls through to reading the winner's row.
	const ins = `
INSERT INTO notifications (id, job_id, job_kind, kind, status, message, last_error)
VALUES ($1, $2, $3, $4, $5, $6, '')
ON CONFLICT (job_id, kind) DO NOTHING
RETURNING ` + notificationColumns

	row, err := pickRow(ctx, r.pool, tx, ins,
		n.ID, n.JobID, string(n.JobKind), string(n.Kind), string(model.NotificationStatusPending), n.Message)
	if err != nil {
		return nil, false, err
	}
	stored, err := scanNotification(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	const sel = `SELECT ` + notificationColumns + ` FROM notifications WHERE job_id = $1 AND kind = $2`
	row, err = pickRow(ctx, r.pool, tx, sel, n.JobID, string(n.Kind))
	if err != nil {
		return nil, false, err
	}
	stored, err = scanNotification(row)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *notificationRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Notification, error) {
	const q = `SELECT ` + notificationColumns + ` FROM notifications WHERE job_id = $1 ORDER BY id`
	return r.query(ctx, tx, q, jobID)
}

func (r *notificationRepo) ListPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`
	return r.query(ctx, tx, q, limit)
}

func (r *notificationRepo) MarkSent(ctx context.Context, tx repository.Tx, id string) error {
	return r.mark(ctx, tx, id, model.NotificationStatusSent, "")
}

func (r *notificationRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) error {
	return r.mark(ctx, tx, id, model.NotificationStatusFailed, reason)
}

func (r *notificationRepo) mark(ctx context.Context, tx repository.Tx, id string, status model.NotificationStatus, reason string) error {
	const q = `UPDATE notifications SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *notificationRepo) query(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Notification, error) {
	rows, err := querySQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var (
		n                     model.Notification
		jobKind, kind, status string
	)
	err := row.Scan(&n.ID, &n.JobID, &jobKind, &kind, &status, &n.Message, &n.LastError, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, translate(err)
	}
	n.JobKind = model.JobKind(jobKind)
	n.Kind = model.NotificationKind(kind)
	n.Status = model.NotificationStatus(status)
	return &n, nil
}
