package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/repository"
)

var _ repository.JobStore = (*jobStore)(nil)

type jobStore struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobStore(pool *pgxpool.Pool, tm repository.TransactionManager) *jobStore {
	return &jobStore{pool: pool, tm: tm}
}

func (s *jobStore) CreateJob(ctx context.Context, in repository.NewJob) (string, error) {
	if in.BatchCount < 0 {
		return "", domain.ErrInvalidArgument
	}
	id := uuid.NewString()
	const q = `
INSERT INTO jobs (id, template_id, repository_name, batch_count, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'processing', $5, $5);`
	if _, err := execSQL(ctx, s.pool, nil, q, id, in.TemplateID, in.RepositoryName, in.BatchCount, time.Now()); err != nil {
		return "", translate(err)
	}
	return id, nil
}

// CreateBatch is idempotent by (job_id, idx): the no-op update lets
// RETURNING hand back the id of an existing row.
func (s *jobStore) CreateBatch(ctx context.Context, jobID string, index int, totalBytes int64) (string, error) {
	if index < 0 || totalBytes < 0 {
		return "", domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO batches (id, job_id, idx, total_bytes, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $5)
ON CONFLICT (job_id, idx) DO UPDATE SET updated_at = batches.updated_at
RETURNING id;`
	row, err := pickRow(ctx, s.pool, nil, q, uuid.NewString(), jobID, index, totalBytes, time.Now())
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		return "", translate(err)
	}
	return id, nil
}

func (s *jobStore) SubmitResult(ctx context.Context, batchID, text, rawTrace string) (string, error) {
	resultID := uuid.NewString()
	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, s.pool, tx, `SELECT id FROM batches WHERE id = $1 FOR UPDATE;`, batchID)
		if err != nil {
			return err
		}
		var id string
		if err := row.Scan(&id); err != nil {
			return translate(err)
		}

		now := time.Now()
		const ins = `
INSERT INTO batch_results (id, batch_id, content, raw_trace, created_at)
VALUES ($1, $2, $3, $4, $5);`
		if _, err := execSQL(ctx, s.pool, tx, ins, resultID, batchID, text, rawTrace, now); err != nil {
			return translate(err)
		}
		const upd = `UPDATE batches SET status = 'completed', updated_at = $2 WHERE id = $1;`
		if _, err := execSQL(ctx, s.pool, tx, upd, batchID, now); err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultID, nil
}

const selectBatchesWithResult = `
SELECT b.id, b.job_id, b.idx, b.total_bytes, b.status, COALESCE(r.content, '')
FROM batches b
LEFT JOIN LATERAL (
    SELECT content FROM batch_results
    WHERE batch_id = b.id
    ORDER BY created_at DESC
    LIMIT 1
) r ON true
WHERE b.job_id = $1
ORDER BY b.idx;`

func (s *jobStore) ListBatches(ctx context.Context, jobID string) ([]model.BatchRecord, error) {
	return s.listBatches(ctx, nil, jobID)
}

func (s *jobStore) listBatches(ctx context.Context, tx repository.Tx, jobID string) ([]model.BatchRecord, error) {
	rows, err := queryRows(ctx, s.pool, tx, selectBatchesWithResult, jobID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []model.BatchRecord
	for rows.Next() {
		var (
			rec    model.BatchRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Index, &rec.TotalBytes, &status, &rec.Result); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		rec.Completed = status == string(model.BatchStatusCompleted)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

type jobHeader struct {
	ID             string
	TemplateID     string
	RepositoryName string
	BatchCount     int
}

// Consolidate joins every batch result of the job into one Markdown document.
// A job that already has a document gets it back unchanged, unless a batch
// result was stored after the document was last rendered; the document is then
// rendered again in place.
func (s *jobStore) Consolidate(ctx context.Context, jobID string) (*model.Documentation, error) {
	var doc *model.Documentation
	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, s.pool, tx, `
SELECT id, template_id, repository_name, batch_count
FROM jobs WHERE id = $1 FOR UPDATE;`, jobID)
		if err != nil {
			return err
		}
		var h jobHeader
		if err := row.Scan(&h.ID, &h.TemplateID, &h.RepositoryName, &h.BatchCount); err != nil {
			return translate(err)
		}

		existing, err := s.getDocumentation(ctx, tx, jobID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			stale, err := s.hasNewerResults(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if !stale {
				doc = existing
				return nil
			}
		}

		recs, err := s.listBatches(ctx, tx, jobID)
		if err != nil {
			return err
		}
		completed := 0
		for _, r := range recs {
			if r.Completed {
				completed++
			}
		}
		if completed != h.BatchCount || len(recs) != h.BatchCount {
			return fmt.Errorf("%w: job %s has %d of %d batches completed",
				domain.ErrInvalidArgument, jobID, completed, h.BatchCount)
		}

		now := time.Now()
		content := renderDocumentation(h, recs)
		if existing != nil {
			const upd = `
UPDATE documentations SET content = $2, updated_at = $3, rendered_at = $3
WHERE job_id = $1;`
			if _, err := execSQL(ctx, s.pool, tx, upd, jobID, content, now); err != nil {
				return translate(err)
			}
			existing.Content = content
			existing.UpdatedAt = now
			doc = existing
		} else {
			d := &model.Documentation{
				ID:        uuid.NewString(),
				JobID:     jobID,
				Content:   content,
				CreatedAt: now,
				UpdatedAt: now,
			}
			const ins = `
INSERT INTO documentations (id, job_id, content, created_at, updated_at, rendered_at)
VALUES ($1, $2, $3, $4, $4, $4);`
			if _, err := execSQL(ctx, s.pool, tx, ins, d.ID, d.JobID, d.Content, now); err != nil {
				return translate(err)
			}
			doc = d
		}
		if _, err := execSQL(ctx, s.pool, tx, `UPDATE jobs SET status = 'completed', updated_at = $2 WHERE id = $1;`, jobID, now); err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// hasNewerResults reports whether a result was stored after the job's
// document was last rendered. Manual edits do not move rendered_at.
func (s *jobStore) hasNewerResults(ctx context.Context, tx repository.Tx, jobID string) (bool, error) {
	row, err := pickRow(ctx, s.pool, tx, `
SELECT EXISTS (
    SELECT 1
    FROM batch_results r
    JOIN batches b ON b.id = r.batch_id
    JOIN documentations d ON d.job_id = b.job_id
    WHERE b.job_id = $1 AND r.created_at > d.rendered_at
);`, jobID)
	if err != nil {
		return false, err
	}
	var stale bool
	if err := row.Scan(&stale); err != nil {
		return false, translate(err)
	}
	return stale, nil
}

func (s *jobStore) GetDocumentation(ctx context.Context, jobID string) (*model.Documentation, error) {
	return s.getDocumentation(ctx, nil, jobID)
}

func (s *jobStore) getDocumentation(ctx context.Context, tx repository.Tx, jobID string) (*model.Documentation, error) {
	row, err := pickRow(ctx, s.pool, tx, `
SELECT id, job_id, content, created_at, updated_at
FROM documentations WHERE job_id = $1;`, jobID)
	if err != nil {
		return nil, err
	}
	var d model.Documentation
	if err := row.Scan(&d.ID, &d.JobID, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *jobStore) UpdateDocumentation(ctx context.Context, jobID, content string) (*model.Documentation, error) {
	row, err := pickRow(ctx, s.pool, nil, `
UPDATE documentations SET content = $2, updated_at = $3
WHERE job_id = $1
RETURNING id, job_id, content, created_at, updated_at;`, jobID, content, time.Now())
	if err != nil {
		return nil, err
	}
	var d model.Documentation
	if err := row.Scan(&d.ID, &d.JobID, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func renderDocumentation(h jobHeader, recs []model.BatchRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Consolidated documentation - job %s\n\n", h.ID)
	fmt.Fprintf(&sb, "Repository: **%s**\n\n", h.RepositoryName)
	fmt.Fprintf(&sb, "Template: `%s`\n\n", h.TemplateID)
	sb.WriteString("## Batch summaries\n\n")
	for _, r := range recs {
		fmt.Fprintf(&sb, "### Batch #%d\n\n", r.Index)
		sb.WriteString(strings.TrimRight(r.Result, "\n"))
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}
