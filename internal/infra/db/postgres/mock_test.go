//go:build !integration

package postgres

import (
	"context"
	"time"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
	red "invoice-ocr-pipeline/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerJobRepo mocks the database repository that the job decorator wraps.
type mockInnerJobRepo struct {
	GetFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error)
	getCalled int
}

func (m *mockInnerJobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.getCalled++
	return m.GetFunc(ctx, tx, id)
}
func (m *mockInnerJobRepo) Create(ctx context.Context, tx repository.Tx, kind model.JobKind, payloadRef string) (*model.Job, error) {
	return nil, nil
}
func (m *mockInnerJobRepo) Transition(ctx context.Context, tx repository.Tx, id string, cond repository.JobCondition, upd repository.JobUpdate) (*model.Job, error) {
	return nil, nil
}
func (m *mockInnerJobRepo) List(ctx context.Context, tx repository.Tx, f repository.JobFilter) ([]*model.Job, error) {
	return nil, nil
}
func (m *mockInnerJobRepo) ListStale(ctx context.Context, tx repository.Tx, status model.JobStatus, before time.Time, limit int) ([]*model.Job, error) {
	return nil, nil
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
