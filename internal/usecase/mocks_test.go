package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	"invoice-ocr-pipeline/internal/infra/db/memory"
	"invoice-ocr-pipeline/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type published struct {
	JobID string
	Delay time.Duration
}

// fakePublisher records publishes. PublishFunc, when set, decides the result.
type fakePublisher struct {
	mu          sync.Mutex
	sent        []published
	PublishFunc func(job *model.Job) error
}

func (p *fakePublisher) Publish(ctx context.Context, job *model.Job) error {
	return p.PublishAfter(ctx, job, 0)
}

func (p *fakePublisher) PublishAfter(_ context.Context, job *model.Job, delay time.Duration) error {
	if p.PublishFunc != nil {
		if err := p.PublishFunc(job); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{JobID: job.ID, Delay: delay})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

type recordingAnnouncer struct {
	mu           sync.Mutex
	notes        []*model.Notification
	AnnounceFunc func(n *model.Notification) error
}

func (a *recordingAnnouncer) Announce(_ context.Context, n *model.Notification) error {
	a.mu.Lock()
	a.notes = append(a.notes, n)
	hook := a.AnnounceFunc
	a.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return nil
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.notes)
}

type fixture struct {
	db        *memory.DB
	jobs      repository.JobRepository
	notes     repository.NotificationRepository
	pub       *fakePublisher
	announcer *recordingAnnouncer
	notifier  usecase.NotificationUseCase
	lifecycle usecase.LifecycleUseCase
	pipeline  usecase.PipelineUseCase
}

func newFixture(maxRetries int) *fixture {
	f := &fixture{db: memory.New(), pub: &fakePublisher{}, announcer: &recordingAnnouncer{}}
	f.jobs = memory.NewJobRepo(f.db)
	f.notes = memory.NewNotificationRepo(f.db)
	policy, err := usecase.NewRetryPolicy(maxRetries, "exponential", time.Second, 10*time.Second)
	if err != nil {
		panic(err)
	}
	f.notifier = usecase.NewNotificationUseCase(f.notes, f.announcer, 0, newTestLogger())
	f.lifecycle = usecase.NewLifecycleUseCase(f.jobs, f.db, f.notifier, f.pub, policy, newTestLogger())
	f.pipeline = usecase.NewPipelineUseCase(f.jobs, f.lifecycle, f.pub, newTestLogger())
	return f
}

func (f *fixture) notesFor(id string) []*model.Notification {
	ns, _ := f.notes.FindByJob(context.Background(), repository.NoTX, id)
	return ns
}
