package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ppiankov/uhmm/internal/logger"
)

// ErrPoolClosed is returned by Submit after Shutdown has started
var ErrPoolClosed = errors.New("worker pool closed")

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// JobFunc adapts a function to the Job interface
type JobFunc func(ctx context.Context) error

// Execute implements Job
func (f JobFunc) Execute(ctx context.Context) Result {
	return errResult{err: f(ctx)}
}

type errResult struct{ err error }

func (r errResult) GetError() error { return r.err }

// Pool is a long-running set of workers consuming a bounded job queue
type Pool struct {
	workers  int
	jobQueue chan Job
	onResult func(Result)
	log      *logger.Logger

	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	ctx        context.Context
	cancelFunc context.CancelFunc
	startOnce  sync.Once
	closeOnce  sync.Once
}

// NewPool creates a pool with the given number of workers and queue
// capacity. onResult, if non-nil, receives every job result.
func NewPool(workers, queueSize int, onResult func(Result)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		onResult: onResult,
		log:      logger.Named("worker"),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx, p.cancelFunc = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.log.Debug().Int("workers", p.workers).Msg("worker pool started")
	})
}

// worker is the worker goroutine that processes jobs
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if p.ctx.Err() != nil {
			continue
		}
		result := p.run(id, job)
		if p.onResult != nil && result != nil {
			p.onResult(result)
		}
	}
}

func (p *Pool) run(id int, job Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("job panicked")
			result = errResult{err: errors.New("job panicked")}
		}
	}()
	return job.Execute(p.ctx)
}

// Submit queues a job, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to finish.
// If ctx expires first, running jobs are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobQueue)
		p.mu.Unlock()
	})

	if p.cancelFunc == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelFunc()
		return nil
	case <-ctx.Done():
		p.cancelFunc()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs
func (p *Pool) Pending() int {
	return len(p.jobQueue)
}
