package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

// Route binds a job kind to its queue.
type Route struct {
	Queue      string
	RoutingKey string
}

// Routes is fixed at compile time; every JobKind has exactly one entry.
var Routes = map[model.JobKind]Route{
	model.JobKindOCRExtraction: {Queue: "ocr_queue", RoutingKey: "tasks.ocr.process_ocr_task"},
	model.JobKindAITraining:    {Queue: "ai_queue", RoutingKey: "tasks.ai.train_model_task"},
	model.JobKindNotification:  {Queue: "notification_queue", RoutingKey: "tasks.notifications.send_notification"},
}

// RouteFor returns the route of kind or domain.ErrUnknownKind.
func RouteFor(kind model.JobKind) (Route, error) {
	r, ok := Routes[kind]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
	return r, nil
}

// Queues lists every routed queue name, sorted.
func Queues() []string {
	out := make([]string, 0, len(Routes))
	for _, r := range Routes {
		out = append(out, r.Queue)
	}
	sort.Strings(out)
	return out
}

var _ adapter.Publisher = (*Router)(nil)

// Router publishes jobs to the queue of their kind.
type Router struct {
	broker adapter.Broker
	log    *zerolog.Logger
}

func NewRouter(broker adapter.Broker, logger *zerolog.Logger) *Router {
	l := logger.With().Str("component", "QueueRouter").Logger()
	return &Router{broker: broker, log: &l}
}

func (r *Router) Publish(ctx context.Context, job *model.Job) error {
	return r.PublishAfter(ctx, job, 0)
}

func (r *Router) PublishAfter(ctx context.Context, job *model.Job, delay time.Duration) error {
	route, err := RouteFor(job.Kind)
	if err != nil {
		return err
	}
	msg := adapter.Message{
		JobID:      job.ID,
		Kind:       job.Kind,
		RoutingKey: route.RoutingKey,
		Attempt:    job.Attempts,
		EnqueuedAt: time.Now().UTC(),
	}
	if delay > 0 {
		err = r.broker.EnqueueAfter(ctx, route.Queue, msg, delay)
	} else {
		err = r.broker.Enqueue(ctx, route.Queue, msg)
	}
	metrics.IncPublish(route.Queue, err == nil)
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", job.ID, route.Queue, err)
	}
	r.log.Debug().
		Str("job_id", job.ID).
		Str("queue", route.Queue).
		Str("routing_key", route.RoutingKey).
		Dur("delay", delay).
		Msg("job published")
	return nil
}
