package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	"invoice-ocr-pipeline/internal/infra/metrics"
	red "invoice-ocr-pipeline/internal/infra/redis"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

// jobRepoCacheDecorator caches Get for terminal jobs only. A terminal row never
// changes again, so entries need no invalidation; live jobs always hit the
// store.
type jobRepoCacheDecorator struct {
	inner repository.JobRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewJobRepoCacheDecorator(inner repository.JobRepository, cache red.RedisClient, ttl time.Duration) repository.JobRepository {
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &jobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func jobCacheKey(id string) string { return "job:" + id }

func (d *jobRepoCacheDecorator) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if tx == repository.NoTX {
		val, err := d.cache.Get(ctx, jobCacheKey(id))
		if err == nil {
			var job model.Job
			if json.Unmarshal([]byte(val), &job) == nil {
				metrics.IncCacheRequest("job", "hit")
				return &job, nil
			}
		} else if err != redis.Nil {
			metrics.IncCacheRequest("job", "error")
		}
	}

	metrics.IncCacheRequest("job", "miss")
	job, err := d.inner.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		if b, err := json.Marshal(job); err == nil {
			_ = d.cache.Set(ctx, jobCacheKey(id), b, d.ttl)
		}
	}
	return job, nil
}

func (d *jobRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, kind model.JobKind, payloadRef string) (*model.Job, error) {
	return d.inner.Create(ctx, tx, kind, payloadRef)
}

func (d *jobRepoCacheDecorator) Transition(ctx context.Context, tx repository.Tx, id string, cond repository.JobCondition, upd repository.JobUpdate) (*model.Job, error) {
	return d.inner.Transition(ctx, tx, id, cond, upd)
}

func (d *jobRepoCacheDecorator) List(ctx context.Context, tx repository.Tx, f repository.JobFilter) ([]*model.Job, error) {
	return d.inner.List(ctx, tx, f)
}

func (d *jobRepoCacheDecorator) ListStale(ctx context.Context, tx repository.Tx, status model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	return d.inner.ListStale(ctx, tx, status, before, limit)
}
