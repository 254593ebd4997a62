package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Broker = (*MemoryBroker)(nil)

type memQueue struct {
	ch       chan adapter.Message
	deferred atomic.Int64
}

// MemoryBroker is a process-local broker with bounded queues. Used in dev mode
// and tests.
type MemoryBroker struct {
	queues map[string]*memQueue

	mu     sync.Mutex
	timers map[*time.Timer]*memQueue
	closed bool

	log *zerolog.Logger
}

// NewMemoryBroker declares one bounded queue per name.
func NewMemoryBroker(capacity int, logger *zerolog.Logger, names ...string) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1024
	}
	l := logger.With().Str("component", "MemoryBroker").Logger()
	b := &MemoryBroker{
		queues: make(map[string]*memQueue, len(names)),
		timers: make(map[*time.Timer]*memQueue),
		log:    &l,
	}
	for _, n := range names {
		b.queues[n] = &memQueue{ch: make(chan adapter.Message, capacity)}
	}
	return b
}

func (b *MemoryBroker) queue(name string) (*memQueue, error) {
	q, ok := b.queues[name]
	if !ok {
		return nil, domain.ErrUnknownQueue
	}
	return q, nil
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, msg adapter.Message) error {
	q, err := b.queue(queue)
	if err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return domain.ErrStoreUnavailable
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (b *MemoryBroker) EnqueueAfter(ctx context.Context, queue string, msg adapter.Message, delay time.Duration) error {
	if delay <= 0 {
		return b.Enqueue(ctx, queue, msg)
	}
	q, err := b.queue(queue)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrStoreUnavailable
	}
	q.deferred.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		q.deferred.Add(-1)
		if err := b.Enqueue(context.Background(), queue, msg); err != nil {
			// The job row stays queued; the orphan sweep republishes it.
			b.log.Warn().Err(err).Str("queue", queue).Str("job_id", msg.JobID).Msg("deferred message dropped")
		}
	})
	b.timers[t] = q
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context, queue string, wait time.Duration) (*adapter.Message, error) {
	q, err := b.queue(queue)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return &msg, nil
	case <-timer.C:
		return nil, domain.ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBroker) Len(ctx context.Context, queue string) (int64, int64, error) {
	q, err := b.queue(queue)
	if err != nil {
		return 0, 0, err
	}
	return int64(len(q.ch)), q.deferred.Load(), nil
}

// Close cancels pending deferred deliveries and rejects new messages.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for t, q := range b.timers {
		if t.Stop() {
			q.deferred.Add(-1)
		}
		delete(b.timers, t)
	}
}
