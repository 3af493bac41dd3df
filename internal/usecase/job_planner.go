package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/repository"
	"autodoc-pipeline/internal/infra/logging"
)

// JobSpec describes the job a user wants to run.
type JobSpec struct {
	Files          []model.FileRecord
	Template       model.Template
	RepositoryName string
	Model          string
	Temperature    *float64
}

func (s JobSpec) validate() error {
	if len(s.Files) == 0 {
		return domain.ErrNoFiles
	}
	if strings.TrimSpace(s.Template.Content) == "" {
		return domain.ErrNoTemplate
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidArgument)
	}
	if t := s.Temperature; t != nil && (*t < 0 || *t > 2) {
		return domain.ErrInvalidTemperature
	}
	return nil
}

// JobPlanner partitions the selected files and registers the job with the
// storage backend.
type JobPlanner struct {
	store     repository.JobStore
	packaging PackagingOptions
	log       *zerolog.Logger
}

func NewJobPlanner(store repository.JobStore, packaging PackagingOptions, log *zerolog.Logger) *JobPlanner {
	return &JobPlanner{store: store, packaging: packaging.normalized(), log: logging.Component(log, "JobPlanner")}
}

// Prepare builds the batches of a new job and creates it on the backend.
// Batches are registered lazily, the first time they are processed.
func (p *JobPlanner) Prepare(ctx context.Context, spec JobSpec) (*model.Job, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	batches := BuildBatches(spec.Files, p.packaging)

	id, err := p.store.CreateJob(ctx, repository.NewJob{
		TemplateID:     spec.Template.ID,
		RepositoryName: spec.RepositoryName,
		BatchCount:     len(batches),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	p.log.Info().Str("job_id", id).Int("files", len(spec.Files)).Int("batches", len(batches)).Msg("job prepared")
	return &model.Job{
		ID:             id,
		RepositoryName: spec.RepositoryName,
		Template:       spec.Template,
		Model:          spec.Model,
		Temperature:    spec.Temperature,
		Batches:        batches,
		CreatedAt:      time.Now(),
	}, nil
}

// Resume rebuilds the batches of an existing job from the same inputs and
// overlays what the backend already holds: backend identifiers, and results
// for batches that were completed in an earlier process.
func (p *JobPlanner) Resume(ctx context.Context, jobID string, spec JobSpec) (*model.Job, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	batches := BuildBatches(spec.Files, p.packaging)

	recs, err := p.store.ListBatches(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list batches of job %s: %w", jobID, err)
	}
	for _, rec := range recs {
		if rec.Index < 0 || rec.Index >= len(batches) {
			return nil, fmt.Errorf("%w: job %s has batch %d but the selection yields %d batches",
				domain.ErrInvalidArgument, jobID, rec.Index, len(batches))
		}
		b := &batches[rec.Index]
		if rec.TotalBytes != b.TotalBytes {
			return nil, fmt.Errorf("%w: batch %d changed since it was registered (%d bytes, now %d)",
				domain.ErrInvalidArgument, rec.Index, rec.TotalBytes, b.TotalBytes)
		}
		b.BackendID = rec.ID
		if rec.Completed {
			b.Status = model.BatchStatusCompleted
			b.Result = rec.Result
		}
	}

	job := &model.Job{
		ID:             jobID,
		RepositoryName: spec.RepositoryName,
		Template:       spec.Template,
		Model:          spec.Model,
		Temperature:    spec.Temperature,
		Batches:        batches,
		CreatedAt:      time.Now(),
	}

	if _, err := p.store.GetDocumentation(ctx, jobID); err == nil {
		job.Consolidated = true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load documentation of job %s: %w", jobID, err)
	}

	counts := job.CountByStatus()
	p.log.Info().Str("job_id", jobID).Int("batches", len(batches)).
		Int("completed", counts[model.BatchStatusCompleted]).Bool("consolidated", job.Consolidated).
		Msg("job resumed")
	return job, nil
}
