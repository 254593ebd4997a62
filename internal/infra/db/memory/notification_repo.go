package memory

import (
	"context"
	"sort"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var _ repository.NotificationRepository = (*notificationRepo)(nil)

type notificationRepo struct {
	db *DB
}

func NewNotificationRepo(db *DB) *notificationRepo {
	return &notificationRepo{db: db}
}

func noteKey(jobID string, kind model.NotificationKind) string { return jobID + "/" + string(kind) }

func (r *notificationRepo) Create(ctx context.Context, tx repository.Tx, n *model.Notification) (*model.Notification, bool, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	if _, ok := r.db.jobs[n.JobID]; !ok {
		return nil, false, domain.ErrNotFound
	}
	key := noteKey(n.JobID, n.Kind)
	if id, ok := r.db.noteKeys[key]; ok {
		cp := *r.db.notes[id]
		return &cp, false, nil
	}
	cp := *n
	r.db.notes[n.ID] = &cp
	r.db.noteKeys[key] = n.ID
	out := cp
	return &out, true, nil
}

func (r *notificationRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Notification, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	out := make([]*model.Notification, 0, 2)
	for _, n := range r.db.notes {
		if n.JobID == jobID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *notificationRepo) ListPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.Notification, error) {
	unlock := r.db.lock(tx)
	defer unlock()
	out := make([]*model.Notification, 0)
	for _, n := range r.db.notes {
		if n.Status == model.NotificationStatusPending {
			cp := *n
			out = append(out, &cp)
		}
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *notificationRepo) MarkSent(ctx context.Context, tx repository.Tx, id string) error {
	return r.mark(tx, id, model.NotificationStatusSent, "")
}

func (r *notificationRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) error {
	return r.mark(tx, id, model.NotificationStatusFailed, reason)
}

func (r *notificationRepo) mark(tx repository.Tx, id string, status model.NotificationStatus, reason string) error {
	unlock := r.db.lock(tx)
	defer unlock()
	n, ok := r.db.notes[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	n.LastError = reason
	n.UpdatedAt = r.db.now()
	return nil
}
