// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/domain/ports/repository"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/metrics"
)

const MsgStopped = "processing stopped by request"

// RunOutcome summarises how a call to Process ended.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed" // every batch completed
	OutcomePartial   RunOutcome = "partial"   // the run ended with batches in error
	OutcomeStopped   RunOutcome = "stopped"   // stop requested or context cancelled
)

// RunReport is returned by Process.
type RunReport struct {
	Outcome       RunOutcome
	Attempted     int
	Completed     int
	Failed        int
	Message       string
	Documentation *model.Documentation
}

// BatchView is a read-only projection of a batch.
type BatchView struct {
	Index     int               `json:"index"`
	Status    model.BatchStatus `json:"status"`
	Files     []string          `json:"files"`
	Bytes     int64             `json:"bytes"`
	BackendID string            `json:"backend_id,omitempty"`
	HasResult bool              `json:"has_result"`
}

// JobSnapshot is a read-only projection of a job and its runner.
type JobSnapshot struct {
	JobID        string                    `json:"job_id"`
	Repository   string                    `json:"repository"`
	Model        string                    `json:"model"`
	Running      bool                      `json:"running"`
	Consolidated bool                      `json:"consolidated"`
	Message      string                    `json:"message,omitempty"`
	Counts       map[model.BatchStatus]int `json:"counts"`
	Batches      []BatchView               `json:"batches"`
}

// JobRunner drives the batches of one job through the AI service, one at a
// time, persisting each result before moving on.
type JobRunner struct {
	mu      sync.Mutex // guards job and message
	job     *model.Job
	message string

	store repository.JobStore
	gen   *generator
	log   *zerolog.Logger

	stop    atomic.Bool
	running atomic.Bool
	queued  atomic.Bool // a run was handed to a worker and has not started
}

func NewJobRunner(
	job *model.Job,
	store repository.JobStore,
	ai adapter.AIServiceAdapter,
	gov RateGovernor,
	exec *CallExecutor,
	tokens adapter.TokenEstimator,
	log *zerolog.Logger,
) *JobRunner {
	l := logging.Component(log, "JobRunner")
	return &JobRunner{
		job:   job,
		store: store,
		gen:   &generator{ai: ai, gov: gov, exec: exec, tokens: tokens, log: l},
		log:   l,
	}
}

func (r *JobRunner) JobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.ID
}

// Stop asks the current run to end at the next batch boundary. The batch in
// flight is allowed to finish. A run that is queued but not yet started stops
// before its first batch. Stop on an idle runner is ignored.
func (r *JobRunner) Stop() {
	if r.running.Load() || r.queued.Load() {
		r.stop.Store(true)
	}
}

// SetQueued marks that a run has been handed to a worker. A Stop received
// while queued is kept for that run.
func (r *JobRunner) SetQueued(v bool) {
	r.queued.Store(v)
	if !v && !r.running.Load() {
		r.stop.Store(false)
	}
}

func (r *JobRunner) Running() bool { return r.running.Load() }

// ResetFailed moves every batch in error back to pending and returns how many
// were reset.
func (r *JobRunner) ResetFailed() (int, error) {
	if r.running.Load() {
		return 0, domain.ErrRunInProgress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.job.Batches {
		if r.job.Batches[i].Status == model.BatchStatusError {
			r.job.Batches[i].Reset()
			n++
		}
	}
	return n, nil
}

// ResetAll moves every batch back to pending and clears their results.
// Backend identifiers are kept so reprocessing reuses them.
func (r *JobRunner) ResetAll() error {
	if r.running.Load() {
		return domain.ErrRunInProgress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.job.Batches {
		r.job.Batches[i].Reset()
	}
	r.job.Consolidated = false
	r.message = ""
	return nil
}

// RetryFailed resets failed batches and processes the job again.
func (r *JobRunner) RetryFailed(ctx context.Context) (RunReport, error) {
	if _, err := r.ResetFailed(); err != nil {
		return RunReport{}, err
	}
	return r.Process(ctx)
}

// RetryAll resets every batch and processes the job from the first batch.
func (r *JobRunner) RetryAll(ctx context.Context) (RunReport, error) {
	if err := r.ResetAll(); err != nil {
		return RunReport{}, err
	}
	return r.Process(ctx)
}

// Snapshot returns a consistent copy of the job state.
func (r *JobRunner) Snapshot() JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := JobSnapshot{
		JobID:        r.job.ID,
		Repository:   r.job.RepositoryName,
		Model:        r.job.Model,
		Running:      r.running.Load(),
		Consolidated: r.job.Consolidated,
		Message:      r.message,
		Counts:       r.job.CountByStatus(),
		Batches:      make([]BatchView, len(r.job.Batches)),
	}
	for i := range r.job.Batches {
		b := &r.job.Batches[i]
		s.Batches[i] = BatchView{
			Index:     b.Index,
			Status:    b.Status,
			Files:     b.Paths(),
			Bytes:     b.TotalBytes,
			BackendID: b.BackendID,
			HasResult: b.Result != "",
		}
	}
	return s
}

// Process runs every pending or failed batch in ascending index order.
// Per-batch failures never abort the run. Once every batch is completed the
// job is consolidated, once per round of results. A job with nothing left to
// run that is already consolidated returns ErrNothingToProcess.
func (r *JobRunner) Process(ctx context.Context) (RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return RunReport{}, domain.ErrRunInProgress
	}
	defer r.running.Store(false)
	if !r.queued.Swap(false) {
		r.stop.Store(false)
	}
	defer r.stop.Store(false)

	if r.idle() {
		return RunReport{}, domain.ErrNothingToProcess
	}

	defer logging.TraceDuration(r.log, "JobRunner.Process")()

	r.mu.Lock()
	r.message = ""
	jobID := r.job.ID
	r.mu.Unlock()
	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, r.log)

	var rep RunReport
	stopped := false
	for cursor := 0; ; {
		idx, ok := r.nextRunnable(cursor)
		if !ok {
			break
		}
		if r.stop.Load() || ctx.Err() != nil {
			stopped = true
			break
		}
		cursor = idx + 1
		rep.Attempted++

		err := r.processBatch(ctx, idx)
		switch {
		case err == nil:
			rep.Completed++
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			stopped = true
		default:
			rep.Failed++
			r.setMessage(fmt.Sprintf("batch %d failed: %v", idx, err), false)
		}
		if stopped {
			break
		}
	}

	if stopped {
		r.setMessage(MsgStopped, true)
		rep.Outcome = OutcomeStopped
		rep.Message = r.currentMessage()
		metrics.IncRun(string(rep.Outcome))
		log.Info().Int("completed", rep.Completed).Int("failed", rep.Failed).Msg("run stopped")
		return rep, nil
	}

	rep.Outcome = OutcomePartial
	doc, err := r.consolidateIfDone(ctx)
	if err != nil {
		r.setMessage(fmt.Sprintf("consolidation failed: %v", err), false)
		rep.Message = r.currentMessage()
		metrics.IncRun(string(rep.Outcome))
		return rep, err
	}
	r.mu.Lock()
	if r.job.AllCompleted() {
		rep.Outcome = OutcomeCompleted
	}
	r.mu.Unlock()
	rep.Documentation = doc
	rep.Message = r.currentMessage()
	metrics.IncRun(string(rep.Outcome))
	log.Info().Str("outcome", string(rep.Outcome)).Int("completed", rep.Completed).Int("failed", rep.Failed).Msg("run finished")
	return rep, nil
}

func (r *JobRunner) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.job.Consolidated {
		return false
	}
	for i := range r.job.Batches {
		if r.job.Batches[i].Runnable() {
			return false
		}
	}
	return true
}

// nextRunnable returns the lowest index >= from whose batch is pending or in
// error.
func (r *JobRunner) nextRunnable(from int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := from; i < len(r.job.Batches); i++ {
		if r.job.Batches[i].Runnable() {
			return i, true
		}
	}
	return 0, false
}

func (r *JobRunner) processBatch(ctx context.Context, idx int) error {
	r.mu.Lock()
	b := &r.job.Batches[idx]
	prev := b.Status
	b.Status = model.BatchStatusProcessing
	jobID, backendID := r.job.ID, b.BackendID
	index, total := b.Index, b.TotalBytes
	files := b.Files
	tmpl, mdl, temp := r.job.Template.Content, r.job.Model, r.job.Temperature
	r.mu.Unlock()

	log := r.log.With().Str("job_id", jobID).Int("batch_index", index).Str("model", mdl).Logger()
	start := time.Now()

	fail := func(err error) error {
		r.mu.Lock()
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// cancelled mid-call: leave the batch as it was before this run
			r.job.Batches[idx].Status = prev
		} else {
			r.job.Batches[idx].Status = model.BatchStatusError
			metrics.IncBatch(string(model.BatchStatusError))
		}
		r.mu.Unlock()
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("batch failed")
		return err
	}

	if backendID == "" {
		id, err := r.store.CreateBatch(ctx, jobID, index, total)
		if err != nil {
			return fail(fmt.Errorf("register batch: %w", err))
		}
		backendID = id
		r.mu.Lock()
		r.job.Batches[idx].BackendID = id
		r.mu.Unlock()
	}
	log = log.With().Str("batch_id", backendID).Logger()

	res, err := r.gen.generate(ctx, fmt.Sprintf("batch %d", index), adapter.GenerateRequest{
		Model:       mdl,
		Prompt:      BuildBatchPrompt(tmpl, files),
		Temperature: temp,
		Files:       files,
	})
	if err != nil {
		return fail(err)
	}

	if _, err := r.store.SubmitResult(ctx, backendID, res.Text, res.RawJSON); err != nil {
		return fail(fmt.Errorf("submit result: %w", err))
	}

	r.mu.Lock()
	r.job.Batches[idx].Result = res.Text
	r.job.Batches[idx].Status = model.BatchStatusCompleted
	r.mu.Unlock()
	metrics.IncBatch(string(model.BatchStatusCompleted))
	log.Info().Int("files", len(files)).Int64("bytes", total).Int("tokens", res.Usage.TotalTokens).
		Dur("elapsed", time.Since(start)).Msg("batch completed")
	return nil
}

func (r *JobRunner) consolidateIfDone(ctx context.Context) (*model.Documentation, error) {
	r.mu.Lock()
	ready := r.job.AllCompleted() && !r.job.Consolidated
	jobID := r.job.ID
	r.mu.Unlock()
	if !ready {
		return nil, nil
	}

	doc, err := r.store.Consolidate(ctx, jobID)
	metrics.IncConsolidation(err == nil)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.job.Consolidated = true
	r.mu.Unlock()
	r.log.Info().Str("job_id", jobID).Msg("job consolidated")
	return doc, nil
}

// setMessage keeps the first error of a run. A stop message replaces it and
// is never replaced.
func (r *JobRunner) setMessage(msg string, stop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.message == MsgStopped {
		return
	}
	if stop || r.message == "" {
		r.message = msg
	}
}

func (r *JobRunner) currentMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message
}
