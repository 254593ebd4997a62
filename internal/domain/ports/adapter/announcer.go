package adapter

import (
	"context"

	"invoice-ocr-pipeline/internal/domain/model"
)

// Announcer broadcasts a recorded notification to live listeners. Delivery is
// best effort; the stored record is authoritative.
type Announcer interface {
	Announce(ctx context.Context, n *model.Notification) error
}
