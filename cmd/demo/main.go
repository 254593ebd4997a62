// Command demo runs the pipeline in process against the in-memory store and
// broker, submits a handful of invoices and prints how each one ended.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	aiAdapters "invoice-ocr-pipeline/internal/infra/adapters/ai"
	"invoice-ocr-pipeline/internal/infra/adapters/notify"
	"invoice-ocr-pipeline/internal/infra/db/memory"
	"invoice-ocr-pipeline/internal/infra/queue"
	"invoice-ocr-pipeline/internal/infra/worker"
	"invoice-ocr-pipeline/internal/usecase"
)

// scriptedExtractor fails according to the payload name: "flaky" documents fail
// once, "timeout" documents always fail transiently, "corrupt" documents fail
// permanently.
type scriptedExtractor struct {
	mu    sync.Mutex
	seen  map[string]int
	inner adapter.Extractor
}

func (s *scriptedExtractor) Extract(ctx context.Context, ref string) (*adapter.Extraction, error) {
	s.mu.Lock()
	s.seen[ref]++
	n := s.seen[ref]
	s.mu.Unlock()

	switch {
	case strings.Contains(ref, "corrupt"):
		return nil, domain.Permanentf("%s: not an image", ref)
	case strings.Contains(ref, "timeout"):
		return nil, context.DeadlineExceeded
	case strings.Contains(ref, "flaky") && n == 1:
		return nil, errors.New("extractor 503")
	}
	return s.inner.Extract(ctx, ref)
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	db := memory.New()
	jobs, notes := memory.NewJobRepo(db), memory.NewNotificationRepo(db)
	broker := queue.NewMemoryBroker(64, &logger, queue.Queues()...)
	defer broker.Close()
	noop := notify.NewNoopNotifier(&logger)

	policy, err := usecase.NewRetryPolicy(3, "exponential", 50*time.Millisecond, 400*time.Millisecond)
	if err != nil {
		logger.Fatal().Err(err).Msg("retry policy")
	}
	router := queue.NewRouter(broker, &logger)
	notifier := usecase.NewNotificationUseCase(notes, noop, usecase.DefaultLowConfidence, &logger)
	lifecycle := usecase.NewLifecycleUseCase(jobs, db, notifier, router, policy, &logger)
	pipeline := usecase.NewPipelineUseCase(jobs, lifecycle, router, &logger)

	sink := aiAdapters.NewMemorySink("ocr_result:")
	extractor := &scriptedExtractor{
		seen:  map[string]int{},
		inner: aiAdapters.NewNoopExtractor(100*time.Millisecond, 0.62, sink, &logger),
	}
	handlers := worker.NewHandlers(
		aiAdapters.NewLimitedExtractor(extractor, "demo", 2, nil),
		aiAdapters.NewNoopTrainer(50*time.Millisecond),
		noop,
		&logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	submissions := []struct {
		kind model.JobKind
		ref  string
	}{
		{model.JobKindOCRExtraction, "https://files.example/inv-001.png"},
		{model.JobKindOCRExtraction, "https://files.example/flaky-002.png"},
		{model.JobKindOCRExtraction, "https://files.example/timeout-003.png"},
		{model.JobKindOCRExtraction, "https://files.example/corrupt-004.png"},
		{model.JobKindAITraining, "datasets/2026-10"},
		{model.JobKindNotification, "broadcast:maintenance-window"},
	}
	var ids []string
	for _, s := range submissions {
		id, err := pipeline.Submit(ctx, s.kind, s.ref)
		if err != nil {
			logger.Fatal().Err(err).Msg("submit")
		}
		ids = append(ids, id)
	}

	// Cancelled while still queued: no worker is running yet.
	cancelled, _ := pipeline.Submit(ctx, model.JobKindOCRExtraction, "https://files.example/inv-999.png")
	if ok, err := pipeline.Cancel(ctx, cancelled); !ok || err != nil {
		logger.Fatal().Err(err).Msg("cancel")
	}
	ids = append(ids, cancelled)

	var pools []*worker.Pool
	for _, kind := range model.JobKinds {
		route, _ := queue.RouteFor(kind)
		handler, _ := handlers.For(kind)
		proc := worker.NewProcessor(worker.ProcessorConfig{
			Queue:       route.Queue,
			Kind:        kind,
			Timeout:     2 * time.Second,
			DequeueWait: 100 * time.Millisecond,
		}, broker, lifecycle, handler, &logger)
		pool := worker.NewPool(route.Queue, 2, &logger)
		pool.Start(ctx, proc.Run)
		pools = append(pools, pool)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if allTerminal(ctx, pipeline, ids) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	for _, p := range pools {
		p.Stop(time.Second)
	}

	fmt.Println()
	fmt.Printf("%-36s  %-14s  %-9s  %-8s  %s\n", "JOB", "KIND", "STATUS", "ATTEMPTS", "DETAIL")
	for _, id := range ids {
		job, err := pipeline.Status(context.Background(), id)
		if err != nil {
			fmt.Printf("%-36s  error: %v\n", id, err)
			continue
		}
		detail := job.ErrorMessage
		if job.Status == model.JobStatusCompleted && job.Result != nil {
			detail = job.Result.Ref
		}
		fmt.Printf("%-36s  %-14s  %-9s  %-8d  %s\n", job.ID, job.Kind, job.Status, job.Attempts, detail)
	}
	fmt.Println()
	for _, n := range noop.Announced() {
		fmt.Printf("notification %s  %-7s  %s\n", n.JobID[:8], n.Kind, n.Message)
	}
}

func allTerminal(ctx context.Context, p usecase.PipelineUseCase, ids []string) bool {
	for _, id := range ids {
		job, err := p.Status(ctx, id)
		if err != nil || !job.Status.Terminal() {
			return false
		}
	}
	return true
}
