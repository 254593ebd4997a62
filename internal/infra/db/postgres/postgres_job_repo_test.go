//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

func claimCond() repository.JobCondition {
	return repository.JobCondition{Status: model.JobStatusQueued, MaxAttempts: 4}
}

func claimUpd() repository.JobUpdate {
	return repository.JobUpdate{
		Status:      model.JobStatusProcessing,
		IncAttempts: true,
		Progress:    repository.Progress(0),
		MarkStarted: true,
	}
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	t.Run("create and get", func(t *testing.T) {
		cleanup(t)
		job, err := repo.Create(ctx, nil, model.JobKindOCRExtraction, "s3://bucket/invoice-1.png")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if job.Status != model.JobStatusQueued || job.Attempts != 0 || job.Progress != 0 {
			t.Fatalf("unexpected initial job: %+v", job)
		}
		got, err := repo.Get(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.PayloadRef != "s3://bucket/invoice-1.png" || got.Kind != model.JobKindOCRExtraction {
			t.Fatalf("unexpected job: %+v", got)
		}
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.Get(ctx, nil, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.Get(ctx, nil, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
		}
		_, err := repo.Transition(ctx, nil, "00000000-0000-0000-0000-000000000000", claimCond(), claimUpd())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on transition, got %v", err)
		}
	})

	t.Run("concurrent claims have a single winner", func(t *testing.T) {
		cleanup(t)
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "ref")

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Transition(ctx, nil, job.ID, claimCond(), claimUpd())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, domain.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 || conflicts != workers-1 {
			t.Fatalf("expected 1 win and %d conflicts, got %d and %d", workers-1, wins, conflicts)
		}
		got, _ := repo.Get(ctx, nil, job.ID)
		if got.Attempts != 1 || got.Status != model.JobStatusProcessing || got.StartedAt == nil {
			t.Fatalf("unexpected claimed job: %+v", got)
		}
	})

	t.Run("progress is monotonic while processing", func(t *testing.T) {
		cleanup(t)
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		if _, err := repo.Transition(ctx, nil, job.ID, claimCond(), claimUpd()); err != nil {
			t.Fatalf("claim: %v", err)
		}
		proc := repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 1}
		for _, p := range []int{40, 10} {
			if _, err := repo.Transition(ctx, nil, job.ID, proc, repository.JobUpdate{Status: model.JobStatusProcessing, Progress: repository.Progress(p)}); err != nil {
				t.Fatalf("progress %d: %v", p, err)
			}
		}
		got, _ := repo.Get(ctx, nil, job.ID)
		if got.Progress != 40 {
			t.Fatalf("expected progress 40, got %d", got.Progress)
		}

		stale := repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 2}
		_, err := repo.Transition(ctx, nil, job.ID, stale, repository.JobUpdate{Progress: repository.Progress(90)})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict for fenced attempt, got %v", err)
		}
	})

	t.Run("write after a newer update conflicts", func(t *testing.T) {
		cleanup(t)
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		claimed, err := repo.Transition(ctx, nil, job.ID, claimCond(), claimUpd())
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		proc := repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 1}
		if _, err := repo.Transition(ctx, nil, job.ID, proc, repository.JobUpdate{Status: model.JobStatusProcessing, Progress: repository.Progress(40)}); err != nil {
			t.Fatalf("progress: %v", err)
		}

		fenced := repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 1, UpdatedBefore: claimed.UpdatedAt}
		_, err = repo.Transition(ctx, nil, job.ID, fenced, repository.JobUpdate{Status: model.JobStatusQueued})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict for a write based on a stale read, got %v", err)
		}
		current, _ := repo.Get(ctx, nil, job.ID)
		fresh := repository.JobCondition{Status: model.JobStatusProcessing, Attempt: 1, UpdatedBefore: current.UpdatedAt}
		if _, err := repo.Transition(ctx, nil, job.ID, fresh, repository.JobUpdate{Status: model.JobStatusQueued}); err != nil {
			t.Fatalf("write based on the current row: %v", err)
		}
	})

	t.Run("result is written once", func(t *testing.T) {
		cleanup(t)
		job, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		_, _ = repo.Transition(ctx, nil, job.ID, claimCond(), claimUpd())
		done, err := repo.Transition(ctx, nil, job.ID,
			repository.JobCondition{Status: model.JobStatusProcessing},
			repository.JobUpdate{
				Status:        model.JobStatusCompleted,
				Progress:      repository.Progress(100),
				Result:        &model.Result{Ref: "r1", Confidence: 0.93, ProcessingTime: 1500 * time.Millisecond},
				MarkCompleted: true,
			})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Result == nil || done.Result.Ref != "r1" || done.Result.ProcessingTime != 1500*time.Millisecond {
			t.Fatalf("unexpected result: %+v", done.Result)
		}
		again, err := repo.Transition(ctx, nil, job.ID,
			repository.JobCondition{Status: model.JobStatusCompleted},
			repository.JobUpdate{Result: &model.Result{Ref: "r2"}})
		if err != nil {
			t.Fatalf("second write: %v", err)
		}
		if again.Result.Ref != "r1" {
			t.Fatalf("result overwritten: %+v", again.Result)
		}
	})

	t.Run("list stale and filters", func(t *testing.T) {
		cleanup(t)
		a, _ := repo.Create(ctx, nil, model.JobKindOCRExtraction, "a")
		_, _ = repo.Create(ctx, nil, model.JobKindAITraining, "b")
		_, _ = repo.Transition(ctx, nil, a.ID, claimCond(), claimUpd())
		if _, err := testPool.Exec(ctx, `UPDATE jobs SET updated_at = now() - interval '2 hours' WHERE id = $1`, a.ID); err != nil {
			t.Fatalf("backdate: %v", err)
		}

		stale, err := repo.ListStale(ctx, nil, model.JobStatusProcessing, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListStale: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != a.ID {
			t.Fatalf("expected only %s to be stale, got %+v", a.ID, stale)
		}

		queued, err := repo.List(ctx, nil, repository.JobFilter{Status: model.JobStatusQueued, Kind: model.JobKindAITraining, Limit: 5})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(queued) != 1 || queued[0].PayloadRef != "b" {
			t.Fatalf("unexpected list: %+v", queued)
		}
	})
}

func TestNotificationRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	jobs := NewJobRepo(testPool)
	notes := NewNotificationRepo(testPool)
	tm := NewTxManager(testPool)

	t.Run("create dedupes on job and kind", func(t *testing.T) {
		cleanup(t)
		job, _ := jobs.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		first := &model.Notification{ID: ulid.Make().String(), JobID: job.ID, JobKind: job.Kind, Kind: model.NotificationKindFailure, Message: "OCR failed: boom"}
		stored, created, err := notes.Create(ctx, nil, first)
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}
		dup := &model.Notification{ID: ulid.Make().String(), JobID: job.ID, JobKind: job.Kind, Kind: model.NotificationKindFailure, Message: "other"}
		again, created, err := notes.Create(ctx, nil, dup)
		if err != nil || created {
			t.Fatalf("duplicate create: created=%v err=%v", created, err)
		}
		if again.ID != stored.ID || again.Message != "OCR failed: boom" {
			t.Fatalf("expected stored notification back, got %+v", again)
		}
	})

	t.Run("mark sent removes from pending", func(t *testing.T) {
		cleanup(t)
		job, _ := jobs.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		n := &model.Notification{ID: ulid.Make().String(), JobID: job.ID, JobKind: job.Kind, Kind: model.NotificationKindSuccess, Message: "ok"}
		if _, _, err := notes.Create(ctx, nil, n); err != nil {
			t.Fatalf("create: %v", err)
		}
		pending, _ := notes.ListPending(ctx, nil, 10)
		if len(pending) != 1 {
			t.Fatalf("expected 1 pending, got %d", len(pending))
		}
		if err := notes.MarkSent(ctx, nil, n.ID); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
		pending, _ = notes.ListPending(ctx, nil, 10)
		if len(pending) != 0 {
			t.Fatalf("expected no pending, got %d", len(pending))
		}
		if err := notes.MarkFailed(ctx, nil, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("transition and notification share a transaction", func(t *testing.T) {
		cleanup(t)
		job, _ := jobs.Create(ctx, nil, model.JobKindOCRExtraction, "ref")
		boom := errors.New("boom")
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if _, err := jobs.Transition(ctx, tx, job.ID, repository.JobCondition{Status: model.JobStatusQueued},
				repository.JobUpdate{Status: model.JobStatusFailed, ErrorMessage: repository.Message("cancelled"), MarkCompleted: true}); err != nil {
				return err
			}
			n := &model.Notification{ID: ulid.Make().String(), JobID: job.ID, JobKind: job.Kind, Kind: model.NotificationKindFailure, Message: "m"}
			if _, _, err := notes.Create(ctx, tx, n); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := jobs.Get(ctx, nil, job.ID)
		if got.Status != model.JobStatusQueued {
			t.Fatalf("transition should have rolled back, status=%s", got.Status)
		}
		found, _ := notes.FindByJob(ctx, nil, job.ID)
		if len(found) != 0 {
			t.Fatalf("notification should have rolled back, got %d", len(found))
		}
	})
}
