package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Dispatcher = (*NoopNotifier)(nil)
	_ adapter.Announcer  = (*NoopNotifier)(nil)
)

// NoopNotifier implements the dispatch and announce ports for local/dev runs.
// It logs instead of publishing and remembers what it saw.
type NoopNotifier struct {
	mu         sync.Mutex
	dispatched []string
	announced  []*model.Notification
	log        *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Dispatch(ctx context.Context, payloadRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	n.dispatched = append(n.dispatched, payloadRef)
	n.mu.Unlock()
	n.log.Info().Str("payload_ref", payloadRef).Msg("[noop] dispatch")
	return nil
}

func (n *NoopNotifier) Announce(ctx context.Context, note *model.Notification) error {
	n.mu.Lock()
	cp := *note
	n.announced = append(n.announced, &cp)
	n.mu.Unlock()
	n.log.Info().
		Str("job_id", note.JobID).
		Str("kind", string(note.Kind)).
		Str("message", note.Message).
		Msg("[noop] announce")
	return nil
}

// Announced returns a copy of every announcement so far.
func (n *NoopNotifier) Announced() []*model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.Notification(nil), n.announced...)
}

// Dispatched returns the payload references dispatched so far.
func (n *NoopNotifier) Dispatched() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dispatched...)
}
