//go:build !integration

package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/infra/logging"
)

func testSpec(n int) JobSpec {
	return JobSpec{
		Files:          filesOneEach(n),
		Template:       model.Template{ID: "tpl-1", Content: "Document it"},
		RepositoryName: "autodoc",
		Model:          "gemini-2.5-flash",
	}
}

func TestJobPlannerPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("should register the job with its batch count", func(t *testing.T) {
		store := newMemStore()
		p := NewJobPlanner(store, PackagingOptions{MaxFiles: 2}, logging.Nop())

		job, err := p.Prepare(ctx, testSpec(5))
		require.NoError(t, err)

		require.Len(t, job.Batches, 3)
		assert.Equal(t, 3, store.jobs[job.ID].BatchCount)
		assert.Equal(t, "tpl-1", store.jobs[job.ID].TemplateID)
		assert.Equal(t, 0, store.createBatchCalls, "batches are registered lazily")
	})

	t.Run("should validate the input", func(t *testing.T) {
		p := NewJobPlanner(newMemStore(), PackagingOptions{}, logging.Nop())

		_, err := p.Prepare(ctx, testSpec(0))
		assert.ErrorIs(t, err, domain.ErrNoFiles)

		spec := testSpec(1)
		spec.Template.Content = "  "
		_, err = p.Prepare(ctx, spec)
		assert.ErrorIs(t, err, domain.ErrNoTemplate)

		spec = testSpec(1)
		cold := -0.1
		spec.Temperature = &cold
		_, err = p.Prepare(ctx, spec)
		assert.ErrorIs(t, err, domain.ErrInvalidTemperature)
	})
}

func TestJobPlannerResume(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	p := NewJobPlanner(store, PackagingOptions{MaxFiles: 1}, logging.Nop())

	job, err := p.Prepare(ctx, testSpec(3))
	require.NoError(t, err)
	id0, _ := store.CreateBatch(ctx, job.ID, 0, 1)
	id1, _ := store.CreateBatch(ctx, job.ID, 1, 1)
	_, err = store.SubmitResult(ctx, id0, "part zero", "")
	require.NoError(t, err)

	t.Run("should overlay backend state onto the rebuilt batches", func(t *testing.T) {
		resumed, err := p.Resume(ctx, job.ID, testSpec(3))
		require.NoError(t, err)

		assert.Equal(t, []model.BatchStatus{model.BatchStatusCompleted, model.BatchStatusPending, model.BatchStatusPending}, statuses(resumed))
		assert.Equal(t, "part zero", resumed.Batches[0].Result)
		assert.Equal(t, id1, resumed.Batches[1].BackendID)
		assert.Empty(t, resumed.Batches[2].BackendID)
		assert.False(t, resumed.Consolidated)
	})

	t.Run("should refuse a selection that no longer matches", func(t *testing.T) {
		_, err := p.Resume(ctx, job.ID, testSpec(1))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should notice an existing documentation", func(t *testing.T) {
		_, err := store.Consolidate(ctx, job.ID)
		require.NoError(t, err)

		resumed, err := p.Resume(ctx, job.ID, testSpec(3))
		require.NoError(t, err)
		assert.True(t, resumed.Consolidated)
	})
}
