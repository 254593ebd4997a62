// Command jobctl submits, inspects and cancels pipeline jobs against the
// configured Postgres and Redis.
//
//	jobctl -config config.yaml submit -kind ocr_extraction -ref https://files/inv.png
//	jobctl submit -batch https://files/a.png https://files/b.png
//	jobctl status <job-id>
//	jobctl cancel <job-id>
//	jobctl list -status failed -limit 20
//	jobctl pending
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/config"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	pg "invoice-ocr-pipeline/internal/infra/db/postgres"
	"invoice-ocr-pipeline/internal/infra/logging"
	"invoice-ocr-pipeline/internal/infra/queue"
	red "invoice-ocr-pipeline/internal/infra/redis"
	"invoice-ocr-pipeline/internal/usecase"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fail("config: %v", err)
	}
	if cfg.Database.URL == "" || cfg.Redis.URL == "" {
		fail("jobctl needs database.url and redis.url")
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	quiet := logger.Level(zerolog.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		fail("postgres: %v", err)
	}
	defer pool.Close()
	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		fail("redis: %v", err)
	}
	defer rc.Close()

	policy, err := usecase.NewRetryPolicy(*cfg.Pipeline.MaxRetries, cfg.Pipeline.RetryStrategy, cfg.Pipeline.RetryBase, cfg.Pipeline.RetryMax)
	if err != nil {
		fail("retry policy: %v", err)
	}
	jobs := pg.NewJobRepoCacheDecorator(pg.NewJobRepo(pool), rc, time.Hour)
	router := queue.NewRouter(red.NewQueueBroker(rc, &quiet, queue.Queues()...), &quiet)
	notifier := usecase.NewNotificationUseCase(pg.NewNotificationRepo(pool), red.NewAnnouncer(rc, cfg.Redis.HistoryLen, &quiet), cfg.Pipeline.LowConfidence, &quiet)
	lifecycle := usecase.NewLifecycleUseCase(jobs, pg.NewTxManager(pool), notifier, router, policy, &quiet)
	pipeline := usecase.NewPipelineUseCase(jobs, lifecycle, router, &quiet)

	switch args[0] {
	case "submit":
		fs := flag.NewFlagSet("submit", flag.ExitOnError)
		kind := fs.String("kind", string(model.JobKindOCRExtraction), "job kind")
		ref := fs.String("ref", "", "payload reference (already stored)")
		batch := fs.Bool("batch", false, "submit every remaining argument as a reference")
		_ = fs.Parse(args[1:])
		k, err := model.ParseJobKind(*kind)
		if err != nil {
			fail("%v", err)
		}
		if *batch {
			failed := 0
			for _, r := range pipeline.SubmitBatch(ctx, k, fs.Args()) {
				if r.Err != nil {
					failed++
					fmt.Printf("%s\t%s\terror: %v\n", r.PayloadRef, r.JobID, r.Err)
					continue
				}
				fmt.Printf("%s\t%s\n", r.PayloadRef, r.JobID)
			}
			if failed > 0 {
				fail("%d of %d references failed", failed, fs.NArg())
			}
			return
		}
		id, err := pipeline.Submit(ctx, k, *ref)
		if err != nil {
			fail("submit: %v", err)
		}
		fmt.Println(id)

	case "status":
		job, err := pipeline.Status(ctx, arg(args, 1))
		if err != nil {
			fail("status: %v", err)
		}
		printJSON(job)

	case "cancel":
		ok, err := pipeline.Cancel(ctx, arg(args, 1))
		if err != nil {
			fail("cancel: %v", err)
		}
		if !ok {
			fail("job is no longer queued; not cancelled")
		}
		fmt.Println("cancelled")

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		status := fs.String("status", "", "filter by status")
		kind := fs.String("kind", "", "filter by kind")
		limit := fs.Int("limit", 50, "max rows")
		_ = fs.Parse(args[1:])
		list, err := pipeline.List(ctx, repository.JobFilter{
			Status: model.JobStatus(*status),
			Kind:   model.JobKind(*kind),
			Limit:  *limit,
		})
		if err != nil {
			fail("list: %v", err)
		}
		for _, j := range list {
			fmt.Printf("%s  %-14s  %-10s  attempts=%d  progress=%d  %s\n", j.ID, j.Kind, j.Status, j.Attempts, j.Progress, j.ErrorMessage)
		}

	case "pending":
		list, err := notifier.ListPending(ctx, 100)
		if err != nil {
			fail("pending: %v", err)
		}
		for _, n := range list {
			fmt.Printf("%s  job=%s  %-7s  %s\n", n.ID, n.JobID, n.Kind, n.Message)
		}

	default:
		usage()
	}
}

func arg(args []string, i int) string {
	if len(args) <= i {
		usage()
	}
	return args[i]
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jobctl [-config file] submit|status|cancel|list|pending [args]")
	os.Exit(2)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "jobctl: "+format+"\n", args...)
	os.Exit(1)
}
