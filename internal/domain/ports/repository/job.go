package repository

import (
	"context"

	"autodoc-pipeline/internal/domain/model"
)

// NewJob is the input for registering a job with the storage backend.
type NewJob struct {
	TemplateID     string
	RepositoryName string
	BatchCount     int
}

// JobStore is the storage backend consumed by the pipeline. It holds no
// business logic; every call is a plain network/database operation that the
// pipeline never retries on its own.
type JobStore interface {
	CreateJob(ctx context.Context, in NewJob) (jobID string, err error)
	// CreateBatch registers batch index for jobID. Calling it again for the
	// same (jobID, index) returns the existing identifier.
	CreateBatch(ctx context.Context, jobID string, index int, totalBytes int64) (batchID string, err error)
	// SubmitResult stores the generated text for a batch and marks the batch
	// completed on the backend side.
	SubmitResult(ctx context.Context, batchID, text, rawTrace string) (resultID string, err error)
	ListBatches(ctx context.Context, jobID string) ([]model.BatchRecord, error)

	Consolidate(ctx context.Context, jobID string) (*model.Documentation, error)
	GetDocumentation(ctx context.Context, jobID string) (*model.Documentation, error)
	UpdateDocumentation(ctx context.Context, jobID, content string) (*model.Documentation, error)
}
