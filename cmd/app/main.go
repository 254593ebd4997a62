// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"invoice-ocr-pipeline/internal/config"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	aiAdapters "invoice-ocr-pipeline/internal/infra/adapters/ai"
	"invoice-ocr-pipeline/internal/infra/adapters/notify"
	"invoice-ocr-pipeline/internal/infra/db/memory"
	pg "invoice-ocr-pipeline/internal/infra/db/postgres"
	httpapi "invoice-ocr-pipeline/internal/infra/http"
	"invoice-ocr-pipeline/internal/infra/logging"
	"invoice-ocr-pipeline/internal/infra/metrics"
	"invoice-ocr-pipeline/internal/infra/queue"
	red "invoice-ocr-pipeline/internal/infra/redis"
	"invoice-ocr-pipeline/internal/infra/sched"
	"invoice-ocr-pipeline/internal/infra/worker"
	"invoice-ocr-pipeline/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- Config / logging ----
	cfg, err := config.LoadConfig()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httpapi.Pinger{}

	// ---- Job store ----
	var (
		jobs  repository.JobRepository
		notes repository.NotificationRepository
		tm    repository.TransactionManager
	)
	if cfg.Database.URL == "" {
		db := memory.New()
		jobs, notes, tm = memory.NewJobRepo(db), memory.NewNotificationRepo(db), db
		logger.Warn().Msg("no database.url; using the in-memory job store")
	} else {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		jobs, notes, tm = pg.NewJobRepo(pool), pg.NewNotificationRepo(pool), pg.NewTxManager(pool)
		checks["postgres"] = httpapi.PingFunc(pool.Ping)
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
	}

	// ---- Broker / announcements ----
	var (
		broker     adapter.Broker
		announcer  adapter.Announcer
		dispatcher adapter.Dispatcher
		locker     sched.Locker
		history    httpapi.HistoryReader
		sink       aiAdapters.Sink
		rate       *aiAdapters.RateLimit
	)
	if cfg.Redis.URL == "" {
		mb := queue.NewMemoryBroker(1024, logger, queue.Queues()...)
		defer mb.Close()
		noop := notify.NewNoopNotifier(logger)
		broker, announcer, dispatcher = mb, noop, noop
		sink = aiAdapters.NewMemorySink(cfg.AI.ResultPrefix)
		logger.Warn().Msg("no redis.url; using the in-memory broker")
	} else {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer rc.Close()
		an := red.NewAnnouncer(rc, cfg.Redis.HistoryLen, logger)
		broker = red.NewQueueBroker(rc, logger, queue.Queues()...)
		announcer, dispatcher, history = an, an, an
		locker = red.NewLocker(rc)
		sink = red.NewResultStore(rc, cfg.AI.ResultPrefix, 0)
		checks["redis"] = rc
		if cfg.AI.RateLimit > 0 {
			rate = &aiAdapters.RateLimit{
				Limiter: red.NewRateLimiter(rc),
				Limit:   cfg.AI.RateLimit,
				Window:  cfg.AI.RateWindow,
				Key:     red.ProviderWindowKey,
			}
		}
	}

	// ---- Extraction ----
	extractor, err := newExtractor(ctx, cfg, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("extractor")
	}
	extractor = aiAdapters.NewLimitedExtractor(extractor, cfg.AI.Provider, cfg.AI.ConcurrentLimit, rate)
	logger.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Int("concurrency", cfg.AI.ConcurrentLimit).Msg("extractor ready")

	// ---- Use cases ----
	policy, err := usecase.NewRetryPolicy(*cfg.Pipeline.MaxRetries, cfg.Pipeline.RetryStrategy, cfg.Pipeline.RetryBase, cfg.Pipeline.RetryMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("retry policy")
	}
	router := queue.NewRouter(broker, logger)
	notifier := usecase.NewNotificationUseCase(notes, announcer, cfg.Pipeline.LowConfidence, logger)
	lifecycle := usecase.NewLifecycleUseCase(jobs, tm, notifier, router, policy, logger)

	// ---- Worker pools, one per queue ----
	handlers := worker.NewHandlers(extractor, aiAdapters.NewNoopTrainer(time.Second), dispatcher, logger)
	pools := make([]*worker.Pool, 0, len(model.JobKinds))
	for _, kind := range model.JobKinds {
		route, err := queue.RouteFor(kind)
		if err != nil {
			logger.Fatal().Err(err).Msg("routing")
		}
		handler, err := handlers.For(kind)
		if err != nil {
			logger.Fatal().Err(err).Msg("handlers")
		}
		qc := cfg.Queue(string(kind))
		proc := worker.NewProcessor(worker.ProcessorConfig{
			Queue:        route.Queue,
			Kind:         kind,
			Timeout:      qc.Timeout,
			DequeueWait:  cfg.Pipeline.DequeueWait,
			StoreTimeout: cfg.Pipeline.StoreTimeout,
			ShowPayload:  cfg.Runtime.Dev,
		}, broker, lifecycle, handler, logger)
		pool := worker.NewPool(route.Queue, qc.Workers, logger)
		pool.Start(ctx, proc.Run)
		pools = append(pools, pool)
	}

	// ---- Reconciler ----
	reconciler, err := sched.NewReconcileWorker(sched.ReconcilerConfig{
		Cron:          cfg.Pipeline.ReconcileCron,
		MaxProcessing: cfg.Pipeline.MaxProcessing,
		OrphanAfter:   cfg.Pipeline.OrphanAfter,
		Batch:         100,
	}, jobs, lifecycle, locker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler")
	}

	// ---- Ops HTTP ----
	ops := httpapi.NewServer(cfg.HTTP.Port, checks, history, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return ops.Start() })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return ops.Shutdown(sctx)
	})
	g.Go(func() error {
		queue.ReportDepth(gctx, broker, 15*time.Second, logger)
		return nil
	})

	workers := 0
	for _, p := range pools {
		workers += p.Size()
	}
	logger.Info().Str("version", version).Int("pools", len(pools)).Int("workers", workers).Msg("pipeline running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("pipeline stopped with error")
	}
	stop()

	// ---- Graceful shutdown ----
	logger.Info().Dur("grace", cfg.Pipeline.ShutdownGrace).Msg("shutdown requested; draining workers")
	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			p.Stop(cfg.Pipeline.ShutdownGrace)
		}(p)
	}
	wg.Wait()
	logger.Info().Msg("bye")
}

func newExtractor(ctx context.Context, cfg *config.Config, sink aiAdapters.Sink, logger *zerolog.Logger) (adapter.Extractor, error) {
	switch strings.ToLower(cfg.AI.Provider) {
	case "openai":
		return aiAdapters.NewOpenAIExtractor(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.Model, sink)
	case "gemini":
		return aiAdapters.NewGeminiExtractor(ctx, cfg.AI.GeminiKey, cfg.AI.Model, sink)
	default:
		return aiAdapters.NewNoopExtractor(500*time.Millisecond, 0.9, sink, logger), nil
	}
}
