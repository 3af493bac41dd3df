package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/infra/logging"
)

// Task is one periodic unit of work. An error is logged and the schedule
// continues.
type Task func(ctx context.Context) error

// Scheduler periodically runs a Task.
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     Task
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler that runs task every interval, each run
// bounded by timeout. If interval <= 0 it defaults to 1 minute; timeout
// defaults to the interval.
func NewScheduler(name string, interval, timeout time.Duration, task Task, log *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		timeout:  timeout,
		task:     task,
		log:      logging.Component(log, "Scheduler"),
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start multiple
// times has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	s.log.Debug().Str("task", s.name).Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, s.timeout)
			err := s.task(runCtx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Str("task", s.name).Msg("scheduled task failed")
			}
		}
	}
}

// Stop cancels the scheduler and waits for the loop to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Debug().Str("task", s.name).Msg("scheduler stopped")
}
