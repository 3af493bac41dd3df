//go:build !integration

package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
)

func TestRenderDocumentation(t *testing.T) {
	h := jobHeader{ID: "job-1", TemplateID: "tpl-9", RepositoryName: "autodoc", BatchCount: 2}
	out := renderDocumentation(h, []model.BatchRecord{
		{Index: 0, Result: "first part\n"},
		{Index: 1, Result: "second part"},
	})

	assert.True(t, strings.HasPrefix(out, "# Consolidated documentation - job job-1\n"))
	assert.Contains(t, out, "Repository: **autodoc**")
	assert.Contains(t, out, "Template: `tpl-9`")
	assert.Less(t, strings.Index(out, "### Batch #0"), strings.Index(out, "### Batch #1"))
	assert.Equal(t, 2, strings.Count(out, "\n---\n"))
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23503"}), domain.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505"}), domain.ErrAlreadyExists)
	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
	assert.NoError(t, translate(nil))
}

func TestGetExecutorRejectsUnknownHandles(t *testing.T) {
	_, err := getExecutor(nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = getExecutor(nil, "not a tx")
	assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
}
