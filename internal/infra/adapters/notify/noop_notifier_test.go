package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain/model"
)

func TestNoopNotifier(t *testing.T) {
	logger := zerolog.Nop()
	n := NewNoopNotifier(&logger)
	ctx := context.Background()

	if err := n.Dispatch(ctx, "broadcast:maintenance"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	note := &model.Notification{ID: "n1", JobID: "j1", Kind: model.NotificationKindSuccess}
	if err := n.Announce(ctx, note); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	note.Message = "mutated"

	if got := n.Dispatched(); len(got) != 1 || got[0] != "broadcast:maintenance" {
		t.Fatalf("Dispatched = %v", got)
	}
	if got := n.Announced(); len(got) != 1 || got[0].Message != "" {
		t.Fatalf("Announced should hold a copy, got %+v", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := n.Dispatch(cctx, "x"); err == nil {
		t.Fatal("expected context error")
	}
}
