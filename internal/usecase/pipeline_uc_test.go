package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

func TestPipeline_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a queued job and publishes it", func(t *testing.T) {
		f := newFixture(3)
		id, err := f.pipeline.Submit(ctx, model.JobKindOCRExtraction, "  inv1.png ")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		job, err := f.pipeline.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Status != model.JobStatusQueued || job.Attempts != 0 || job.PayloadRef != "inv1.png" {
			t.Fatalf("unexpected job %+v", job)
		}
		if f.pub.count() != 1 || f.pub.last().JobID != id {
			t.Fatalf("expected the job to be published once, got %+v", f.pub.sent)
		}
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(3)
		if _, err := f.pipeline.Submit(ctx, "pdf_render", "a.png"); !errors.Is(err, domain.ErrValidation) || !errors.Is(err, domain.ErrUnknownKind) {
			t.Fatalf("unknown kind: got %v", err)
		}
		if _, err := f.pipeline.Submit(ctx, model.JobKindAITraining, "   "); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("empty payload: got %v", err)
		}
		jobs, _ := f.jobs.List(ctx, repository.NoTX, repository.JobFilter{})
		if len(jobs) != 0 || f.pub.count() != 0 {
			t.Fatal("rejected submissions must not create or publish jobs")
		}
	})

	t.Run("publish failure fails the job", func(t *testing.T) {
		f := newFixture(3)
		f.pub.PublishFunc = func(*model.Job) error { return domain.ErrQueueFull }

		id, err := f.pipeline.Submit(ctx, model.JobKindOCRExtraction, "inv1.png")
		if !errors.Is(err, domain.ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
		job, _ := f.pipeline.Status(ctx, id)
		if job.Status != model.JobStatusFailed || !strings.HasPrefix(job.ErrorMessage, "enqueue failed") {
			t.Fatalf("job should not be left queued: %+v", job)
		}
		if notes := f.notesFor(id); len(notes) != 1 || notes[0].Kind != model.NotificationKindFailure {
			t.Fatalf("expected a failure notification, got %+v", notes)
		}
	})
}

func TestPipeline_SubmitBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(3)
	f.pub.PublishFunc = func(job *model.Job) error {
		if job.PayloadRef == "b.png" {
			return domain.ErrQueueFull
		}
		return nil
	}

	results := f.pipeline.SubmitBatch(ctx, model.JobKindOCRExtraction, []string{"a.png", "b.png", " ", "c.png"})
	if len(results) != 4 {
		t.Fatalf("expected one result per reference, got %d", len(results))
	}

	for _, i := range []int{0, 3} {
		r := results[i]
		if r.Err != nil || r.JobID == "" {
			t.Fatalf("%s: expected a queued job, got %+v", r.PayloadRef, r)
		}
		job, _ := f.pipeline.Status(ctx, r.JobID)
		if job.Status != model.JobStatusQueued {
			t.Fatalf("%s: unexpected status %s", r.PayloadRef, job.Status)
		}
	}

	unqueued := results[1]
	if !errors.Is(unqueued.Err, domain.ErrQueueFull) || unqueued.JobID == "" {
		t.Fatalf("publish failure should report the created job: %+v", unqueued)
	}
	if job, _ := f.pipeline.Status(ctx, unqueued.JobID); job.Status != model.JobStatusFailed {
		t.Fatalf("unqueued job must not stay queued: %+v", job)
	}

	if invalid := results[2]; !errors.Is(invalid.Err, domain.ErrValidation) || invalid.JobID != "" {
		t.Fatalf("blank reference should fail validation without a job: %+v", invalid)
	}
	if f.pub.count() != 2 {
		t.Fatalf("expected two published jobs, got %d", f.pub.count())
	}
}

func TestPipeline_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(3)
	id, _ := f.pipeline.Submit(ctx, model.JobKindOCRExtraction, "inv1.png")

	ok, err := f.pipeline.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	job, _ := f.pipeline.Status(ctx, id)
	if job.Status != model.JobStatusFailed || job.ErrorMessage != model.CancelledMessage || job.Attempts != 0 {
		t.Fatalf("unexpected cancelled job %+v", job)
	}

	ok, err = f.pipeline.Cancel(ctx, id)
	if err != nil || ok {
		t.Fatalf("second Cancel = %v, %v; want false, nil", ok, err)
	}
	if len(f.notesFor(id)) != 1 {
		t.Fatal("cancel must notify exactly once")
	}

	t.Run("processing job cannot be cancelled", func(t *testing.T) {
		id, _ := f.pipeline.Submit(ctx, model.JobKindOCRExtraction, "inv2.png")
		if _, err := f.lifecycle.Claim(ctx, id, 0); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		ok, err := f.pipeline.Cancel(ctx, id)
		if err != nil || ok {
			t.Fatalf("Cancel = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("unknown and empty ids", func(t *testing.T) {
		if _, err := f.pipeline.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := f.pipeline.Cancel(ctx, " "); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPipeline_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(3)
	a, _ := f.pipeline.Submit(ctx, model.JobKindOCRExtraction, "a.png")
	_, _ = f.pipeline.Submit(ctx, model.JobKindAITraining, "ds-1")
	_, _ = f.pipeline.Cancel(ctx, a)

	failed, err := f.pipeline.List(ctx, repository.JobFilter{Status: model.JobStatusFailed})
	if err != nil || len(failed) != 1 || failed[0].ID != a {
		t.Fatalf("failed filter = %v, %v", failed, err)
	}
	training, _ := f.pipeline.List(ctx, repository.JobFilter{Kind: model.JobKindAITraining})
	if len(training) != 1 {
		t.Fatalf("kind filter returned %d jobs", len(training))
	}
	if _, err := f.pipeline.List(ctx, repository.JobFilter{Status: "stuck"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad status: expected ErrValidation, got %v", err)
	}
}
