//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

func TestJobRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	done := &model.Job{ID: "job-1", Kind: model.JobKindOCRExtraction, Status: model.JobStatusCompleted, Attempts: 2, Result: &model.Result{Ref: "ocr_result:1"}}
	doneJSON, _ := json.Marshal(done)

	t.Run("Get should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				if key != "job:job-1" {
					t.Fatalf("unexpected key %q", key)
				}
				return string(doneJSON), nil
			},
		}
		inner := &mockInnerJobRepo{}
		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute)

		got, err := decorator.Get(ctx, repository.NoTX, "job-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if inner.getCalled != 0 {
			t.Error("inner repository should not be called on a cache hit")
		}
		if got.Status != model.JobStatusCompleted || got.Result == nil || got.Result.Ref != "ocr_result:1" {
			t.Errorf("unexpected cached job %+v", got)
		}
	})

	t.Run("terminal job is cached on miss", func(t *testing.T) {
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		inner := &mockInnerJobRepo{GetFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
			return done.Clone(), nil
		}}
		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute)

		if _, err := decorator.Get(ctx, repository.NoTX, "job-1"); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if inner.getCalled != 1 || setKey != "job:job-1" {
			t.Fatalf("expected a store read and a cache fill, got calls=%d key=%q", inner.getCalled, setKey)
		}
	})

	t.Run("live job is never cached", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				t.Fatal("processing job must not be cached")
				return nil
			},
		}
		inner := &mockInnerJobRepo{GetFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
			return &model.Job{ID: id, Status: model.JobStatusProcessing}, nil
		}}
		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute)
		if _, err := decorator.Get(ctx, repository.NoTX, "job-2"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	})

	t.Run("reads inside a transaction bypass the cache", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Fatal("cache must not be read inside a transaction")
				return "", nil
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error { return nil },
		}
		inner := &mockInnerJobRepo{GetFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
			return done.Clone(), nil
		}}
		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute)
		if _, err := decorator.Get(ctx, struct{}{}, "job-1"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	})
}
