// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/infra/logging"
)

var (
	ErrNilTask   = errors.New("nil task")
	ErrQueueFull = errors.New("worker queue full")
)

type Task func(ctx context.Context) error

// Pool is a small worker pool that runs submitted tasks.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	log  *zerolog.Logger
}

// NewPool starts nothing; call Start. queue bounds the pending tasks, and
// defaults to four per worker.
func NewPool(workers, queue int, log *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queue <= 0 {
		queue = workers * 4
	}
	return &Pool{
		jobs: make(chan Task, queue),
		quit: make(chan struct{}),
		n:    workers,
		log:  logging.Component(log, "WorkerPool"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						p.log.Error().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

// Stop ends the workers after their current task and waits for them.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		// drop when saturated
		return ErrQueueFull
	}
}
