package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var claim = repository.JobUpdate{
	Status:      model.JobStatusProcessing,
	IncAttempts: true,
	MarkStarted: true,
	Progress:    repository.Progress(0),
}

func TestJobRepo_Create(t *testing.T) {
	repo := NewJobRepo(New())
	ctx := context.Background()

	t.Run("should create a queued job", func(t *testing.T) {
		job, err := repo.Create(ctx, nil, model.JobKindOCRExtraction, "uploads/inv1.png")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.ID == "" || job.Status != model.JobStatusQueued || job.Attempts != 0 {
			t.Errorf("unexpected job %+v", job)
		}
	})

	t.Run("should reject unknown kind", func(t *testing.T) {
		_, err := repo.Create(ctx, nil, model.JobKind("thumbnail"), "x.png")
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestJobRepo_ConcurrentClaim(t *testing.T) {
	repo := NewJobRepo(New())
	ctx := context.Background()
	job, err := repo.Create(ctx, nil, model.JobKindOCRExtraction, "inv1.png")
	if err != nil {
		t.Fatal(err)
	}

	const workers = 32
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusQueued}, claim)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, conflicts.Load())
	}
	got, _ := repo.Get(ctx, nil, job.ID)
	if got.Attempts != 1 || got.Status != model.JobStatusProcessing || got.StartedAt == nil {
		t.Errorf("unexpected claimed job %+v", got)
	}
}

func TestJobRepo_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id is not found", func(t *testing.T) {
		repo := NewJobRepo(New())
		_, err := repo.Transition(ctx, nil, "missing", repository.JobCondition{Status: model.JobStatusQueued}, claim)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("attempt fence rejects stale writer", func(t *testing.T) {
		repo := NewJobRepo(New())
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")
		if _, err := repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusQueued}, claim); err != nil {
			t.Fatal(err)
		}
		_, err := repo.Transition(ctx, nil, job.ID,
			repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 2},
			repository.JobUpdate{Status: model.JobStatusCompleted})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("max attempts blocks claim", func(t *testing.T) {
		repo := NewJobRepo(New())
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")
		cond := repository.JobCondition{Status: model.JobStatusQueued, MaxAttempts: 1}
		if _, err := repo.Transition(ctx, nil, job.ID, cond, claim); err != nil {
			t.Fatal(err)
		}
		requeue := repository.JobUpdate{Status: model.JobStatusQueued, Progress: repository.Progress(0)}
		if _, err := repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusProcessing}, requeue); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.Transition(ctx, nil, job.ID, cond, claim); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict once attempts are exhausted, got %v", err)
		}
	})

	t.Run("progress is monotonic while processing and reset on requeue", func(t *testing.T) {
		repo := NewJobRepo(New())
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")
		repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusQueued}, claim)
		processing := repository.JobCondition{Status: model.JobStatusProcessing}

		repo.Transition(ctx, nil, job.ID, processing, repository.JobUpdate{Status: model.JobStatusProcessing, Progress: repository.Progress(40)})
		got, _ := repo.Transition(ctx, nil, job.ID, processing, repository.JobUpdate{Status: model.JobStatusProcessing, Progress: repository.Progress(10)})
		if got.Progress != 40 {
			t.Errorf("expected progress to stay 40, got %d", got.Progress)
		}
		got, _ = repo.Transition(ctx, nil, job.ID, processing, repository.JobUpdate{Status: model.JobStatusQueued, Progress: repository.Progress(0)})
		if got.Progress != 0 {
			t.Errorf("expected progress reset to 0, got %d", got.Progress)
		}
	})

	t.Run("result is written once", func(t *testing.T) {
		repo := NewJobRepo(New())
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")
		repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusQueued}, claim)
		done, err := repo.Transition(ctx, nil, job.ID, repository.JobCondition{Status: model.JobStatusProcessing},
			repository.JobUpdate{Status: model.JobStatusCompleted, Result: &model.Result{Ref: "results/a.json"}, MarkCompleted: true})
		if err != nil {
			t.Fatal(err)
		}
		if done.Result == nil || done.Result.Ref != "results/a.json" || done.CompletedAt == nil {
			t.Errorf("unexpected completed job %+v", done)
		}
		// a returned copy must not alias the stored row
		done.Result.Ref = "mutated"
		again, _ := repo.Get(ctx, nil, job.ID)
		if again.Result.Ref != "results/a.json" {
			t.Error("stored job was mutated through a returned copy")
		}
	})
}

func TestJobRepo_ListStale(t *testing.T) {
	db := New()
	repo := NewJobRepo(db)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	db.SetClock(func() time.Time { return base })
	old, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "old.png")
	db.SetClock(func() time.Time { return base.Add(time.Hour) })
	repo.Create(ctx, nil, model.JobKindOCRExtraction, "new.png")

	stale, err := repo.ListStale(ctx, nil, model.JobStatusQueued, base.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("expected only the old job, got %d jobs", len(stale))
	}
}

func TestDB_WithTxRollsBack(t *testing.T) {
	db := New()
	jobs := NewJobRepo(db)
	notes := NewNotificationRepo(db)
	ctx := context.Background()
	job, _ := jobs.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")

	boom := errors.New("boom")
	err := db.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := jobs.Transition(ctx, tx, job.ID, repository.JobCondition{Status: model.JobStatusQueued},
			repository.JobUpdate{Status: model.JobStatusFailed, ErrorMessage: repository.Message("x"), MarkCompleted: true}); err != nil {
			return err
		}
		if _, _, err := notes.Create(ctx, tx, &model.Notification{ID: "n1", JobID: job.ID, Kind: model.NotificationKindFailure, Status: model.NotificationStatusPending}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusQueued {
		t.Errorf("expected rollback to queued, got %s", got.Status)
	}
	if ns, _ := notes.FindByJob(ctx, nil, job.ID); len(ns) != 0 {
		t.Errorf("expected no notifications after rollback, got %d", len(ns))
	}
}

func TestNotificationRepo(t *testing.T) {
	db := New()
	jobs := NewJobRepo(db)
	notes := NewNotificationRepo(db)
	ctx := context.Background()
	job, _ := jobs.Create(ctx, nil, model.JobKindOCRExtraction, "a.png")

	n := &model.Notification{ID: "01A", JobID: job.ID, Kind: model.NotificationKindSuccess, Status: model.NotificationStatusPending}
	if _, created, err := notes.Create(ctx, nil, n); err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	dup := &model.Notification{ID: "01B", JobID: job.ID, Kind: model.NotificationKindSuccess, Status: model.NotificationStatusPending}
	stored, created, err := notes.Create(ctx, nil, dup)
	if err != nil || created || stored.ID != "01A" {
		t.Fatalf("expected existing notification, got created=%v id=%v err=%v", created, stored, err)
	}

	pending, _ := notes.ListPending(ctx, nil, 10)
	if len(pending) != 1 {
		t.Fatalf("expected one pending notification, got %d", len(pending))
	}
	if err := notes.MarkSent(ctx, nil, "01A"); err != nil {
		t.Fatal(err)
	}
	if pending, _ := notes.ListPending(ctx, nil, 10); len(pending) != 0 {
		t.Errorf("expected no pending notifications after MarkSent, got %d", len(pending))
	}
	if err := notes.MarkFailed(ctx, nil, "nope", "smtp down"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
