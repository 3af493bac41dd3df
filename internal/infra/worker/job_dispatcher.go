package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/usecase"
)

// RunKind selects which runner operation a dispatched run performs.
type RunKind string

const (
	RunProcess     RunKind = "process"
	RunRetryFailed RunKind = "retry_failed"
	RunRetryAll    RunKind = "retry_all"
)

// Runner is the part of usecase.JobRunner the dispatcher drives.
type Runner interface {
	Process(ctx context.Context) (usecase.RunReport, error)
	RetryFailed(ctx context.Context) (usecase.RunReport, error)
	RetryAll(ctx context.Context) (usecase.RunReport, error)
	Running() bool
	SetQueued(bool)
}

// RunResult is the outcome of the last dispatched run.
type RunResult struct {
	Kind     RunKind           `json:"kind"`
	Report   usecase.RunReport `json:"report"`
	Error    string            `json:"error,omitempty"`
	Finished time.Time         `json:"finished"`

	Err error `json:"-"`
}

// JobDispatcher queues runs of one job onto a pool so that callers such as
// the control API never block on a run.
type JobDispatcher struct {
	runner Runner
	pool   *Pool
	log    *zerolog.Logger

	mu      sync.Mutex
	pending bool
	last    *RunResult
	done    chan struct{}
}

func NewJobDispatcher(runner Runner, pool *Pool, log *zerolog.Logger) *JobDispatcher {
	return &JobDispatcher{runner: runner, pool: pool, log: logging.Component(log, "JobDispatcher")}
}

// Dispatch queues a run. It fails with domain.ErrRunInProgress while another
// run is queued or executing.
func (d *JobDispatcher) Dispatch(kind RunKind) error {
	d.mu.Lock()
	if d.pending || d.runner.Running() {
		d.mu.Unlock()
		return domain.ErrRunInProgress
	}
	d.pending = true
	done := make(chan struct{})
	d.done = done
	d.mu.Unlock()

	d.runner.SetQueued(true)
	err := d.pool.Submit(func(ctx context.Context) error {
		defer close(done)
		rep, err := d.run(ctx, kind)
		d.runner.SetQueued(false)

		res := &RunResult{Kind: kind, Report: rep, Finished: time.Now(), Err: err}
		if err != nil {
			res.Error = err.Error()
		}
		d.mu.Lock()
		d.pending = false
		d.last = res
		d.mu.Unlock()

		d.log.Info().Str("kind", string(kind)).Str("outcome", string(rep.Outcome)).Msg("dispatched run finished")
		if errors.Is(err, domain.ErrRunInProgress) || errors.Is(err, domain.ErrNothingToProcess) {
			return nil
		}
		return err
	})
	if err != nil {
		d.runner.SetQueued(false)
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
		close(done)
		return err
	}
	return nil
}

func (d *JobDispatcher) run(ctx context.Context, kind RunKind) (usecase.RunReport, error) {
	switch kind {
	case RunRetryFailed:
		return d.runner.RetryFailed(ctx)
	case RunRetryAll:
		return d.runner.RetryAll(ctx)
	default:
		return d.runner.Process(ctx)
	}
}

// Last returns the result of the most recent finished run, if any.
func (d *JobDispatcher) Last() (RunResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return RunResult{}, false
	}
	return *d.last, true
}

// Wait blocks until the most recently dispatched run finishes or ctx ends.
func (d *JobDispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
