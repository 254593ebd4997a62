package adapter

import (
	"context"
	"time"

	"invoice-ocr-pipeline/internal/domain/model"
)

// Message is the unit carried by a queue. It references the job; the job row is
// the source of truth, the message is only a wake-up.
type Message struct {
	JobID      string        `json:"job_id"`
	Kind       model.JobKind `json:"kind"`
	RoutingKey string        `json:"routing_key"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Broker is a set of named FIFO queues with deferred delivery.
type Broker interface {
	// Enqueue returns once the broker acknowledged the message.
	Enqueue(ctx context.Context, queue string, msg Message) error
	// EnqueueAfter makes msg visible on queue once delay has elapsed.
	EnqueueAfter(ctx context.Context, queue string, msg Message, delay time.Duration) error
	// Dequeue blocks up to wait for a message. It returns domain.ErrQueueEmpty when
	// nothing arrived in time.
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*Message, error)
	// Len reports ready and deferred message counts.
	Len(ctx context.Context, queue string) (ready, deferred int64, err error)
}

// Publisher routes jobs to queues.
type Publisher interface {
	Publish(ctx context.Context, job *model.Job) error
	PublishAfter(ctx context.Context, job *model.Job, delay time.Duration) error
}
