package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop is the body of one worker goroutine. ctx is cancelled when the pool
// stops accepting work; work is cancelled only once the drain grace expires.
type Loop func(ctx, work context.Context, worker int)

// Pool runs a fixed number of goroutines for one queue.
type Pool struct {
	name string
	n    int

	wg         sync.WaitGroup
	stopLoops  context.CancelFunc
	cancelWork context.CancelFunc

	log *zerolog.Logger
}

func NewPool(name string, workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Str("queue", name).Logger()
	return &Pool{name: name, n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

func (p *Pool) Start(ctx context.Context, loop Loop) {
	loopCtx, stopLoops := context.WithCancel(ctx)
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	p.stopLoops, p.cancelWork = stopLoops, cancelWork

	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for loopCtx.Err() == nil {
				p.runGuarded(loopCtx, workCtx, id, loop)
			}
		}(i)
	}
	p.log.Info().Int("workers", p.n).Msg("worker pool started")
}

// runGuarded restarts a loop that panicked outside the handler guard.
func (p *Pool) runGuarded(ctx, work context.Context, id int, loop Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Int("worker", id).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("worker loop panicked; restarting")
			time.Sleep(100 * time.Millisecond)
		}
	}()
	loop(ctx, work, id)
}

// Stop stops dequeuing, waits up to grace for in-flight jobs, then cancels them
// and waits for the goroutines to exit.
func (p *Pool) Stop(grace time.Duration) {
	if p.stopLoops == nil {
		return
	}
	p.stopLoops()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		p.log.Warn().Dur("grace", grace).Msg("drain grace expired; cancelling in-flight jobs")
		p.cancelWork()
		<-done
	}
	p.cancelWork()
	p.log.Info().Msg("worker pool stopped")
}
