package jobs

import (
	"context"
	"sync"

	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// WorkerPool runs jobs on a fixed set of goroutines fed by a buffered
// channel. Stop drains what is already queued.
type WorkerPool struct {
	handler Handler
	workers int
	jobs    chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(h Handler, workers, buffer int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < workers {
		buffer = workers
	}
	return &WorkerPool{handler: h, workers: workers, jobs: make(chan Job, buffer)}
}

// Start launches the workers; ctx is handed to every job.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(ctx, worker, job)
			}
		}(i)
	}
	util.Info("Verification worker pool started", util.Int("workers", p.workers))
}

func (p *WorkerPool) run(ctx context.Context, worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("Verification job panicked",
				util.Int("worker", worker),
				util.String("kind", string(job.Kind)),
				util.Any("panic", r))
		}
	}()
	if err := p.handler(ctx, job); err != nil {
		util.Error("Verification job failed",
			util.Int("worker", worker),
			util.String("kind", string(job.Kind)),
			util.String("profile_id", job.ProfileID.String()),
			util.ErrorField(err))
	}
}

// Enqueue blocks while the buffer is full.
func (p *WorkerPool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs and waits for queued ones to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	util.Info("Verification worker pool stopped")
}
