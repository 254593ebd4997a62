package repository

import (
	"context"

	"invoice-ocr-pipeline/internal/domain/model"
)

type NotificationRepository interface {
	// Create stores n as pending. If a notification for (n.JobID, n.Kind) already
	// exists, the stored one is returned with created=false.
	Create(ctx context.Context, tx Tx, n *model.Notification) (stored *model.Notification, created bool, err error)
	FindByJob(ctx context.Context, tx Tx, jobID string) ([]*model.Notification, error)
	ListPending(ctx context.Context, tx Tx, limit int) ([]*model.Notification, error)
	MarkSent(ctx context.Context, tx Tx, id string) error
	MarkFailed(ctx context.Context, tx Tx, id, reason string) error
}
