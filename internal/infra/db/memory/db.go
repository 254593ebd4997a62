// Package memory is an in-process job store used in dev mode and tests. It keeps
// the same transition semantics as the Postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"invoice-ocr-pipeline/internal/domain/model"
	"invoice-ocr-pipeline/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*DB)(nil)

type DB struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	notes    map[string]*model.Notification
	noteKeys map[string]string // job_id/kind -> notification id
	now      func() time.Time
}

func New() *DB {
	return &DB{
		jobs:     make(map[string]*model.Job),
		notes:    make(map[string]*model.Notification),
		noteKeys: make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (d *DB) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

type txHandle struct{ db *DB }

// WithTx serializes fn against every other store call and restores the previous
// state when fn fails.
func (d *DB) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := d.snapshot()
	if err := fn(ctx, &txHandle{db: d}); err != nil {
		d.restore(snap)
		return err
	}
	return nil
}

// lock takes the store mutex unless tx already holds it.
func (d *DB) lock(tx repository.Tx) func() {
	if h, ok := tx.(*txHandle); ok && h.db == d {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

type snapshot struct {
	jobs     map[string]*model.Job
	notes    map[string]*model.Notification
	noteKeys map[string]string
}

func (d *DB) snapshot() snapshot {
	s := snapshot{
		jobs:     make(map[string]*model.Job, len(d.jobs)),
		notes:    make(map[string]*model.Notification, len(d.notes)),
		noteKeys: make(map[string]string, len(d.noteKeys)),
	}
	for k, v := range d.jobs {
		s.jobs[k] = v.Clone()
	}
	for k, v := range d.notes {
		cp := *v
		s.notes[k] = &cp
	}
	for k, v := range d.noteKeys {
		s.noteKeys[k] = v
	}
	return s
}

func (d *DB) restore(s snapshot) {
	d.jobs = s.jobs
	d.notes = s.notes
	d.noteKeys = s.noteKeys
}
