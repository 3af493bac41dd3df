package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/domain/ports/repository"
	"autodoc-pipeline/internal/infra/logging"
)

// Compile-time check
var _ DocumentationUseCase = (*documentationUC)(nil)

type DocumentationUseCase interface {
	Get(ctx context.Context, jobID string) (*model.Documentation, error)
	Update(ctx context.Context, jobID, content string) (*model.Documentation, error)
	Refine(ctx context.Context, jobID string, req RefineRequest) (*model.Documentation, error)
}

// RefineRequest asks for the consolidated document to be rewritten following
// an additional instruction.
type RefineRequest struct {
	Instruction string
	Model       string
	Temperature *float64
}

type documentationUC struct {
	store repository.JobStore
	gen   *generator
	log   *zerolog.Logger
}

func NewDocumentationUseCase(
	store repository.JobStore,
	ai adapter.AIServiceAdapter,
	gov RateGovernor,
	exec *CallExecutor,
	tokens adapter.TokenEstimator,
	log *zerolog.Logger,
) *documentationUC {
	l := logging.Component(log, "DocumentationUC")
	return &documentationUC{
		store: store,
		gen:   &generator{ai: ai, gov: gov, exec: exec, tokens: tokens, log: l},
		log:   l,
	}
}

func (d *documentationUC) Get(ctx context.Context, jobID string) (*model.Documentation, error) {
	doc, err := d.store.GetDocumentation(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotConsolidated
	}
	return doc, err
}

func (d *documentationUC) Update(ctx context.Context, jobID, content string) (*model.Documentation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: documentation content is empty", domain.ErrInvalidArgument)
	}
	doc, err := d.store.UpdateDocumentation(ctx, jobID, content)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotConsolidated
	}
	return doc, err
}

// Refine sends the current document and the instruction through the same
// governed, retried path as batches and stores the rewritten document.
func (d *documentationUC) Refine(ctx context.Context, jobID string, req RefineRequest) (*model.Documentation, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("%w: refine instruction is empty", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", domain.ErrInvalidArgument)
	}
	current, err := d.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(current.Content) == "" {
		return nil, domain.ErrNotConsolidated
	}

	res, err := d.gen.generate(ctx, "refine", adapter.GenerateRequest{
		Model:       req.Model,
		Prompt:      BuildRefinePrompt(current.Content, req.Instruction),
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	doc, err := d.store.UpdateDocumentation(ctx, jobID, res.Text)
	if err != nil {
		return nil, fmt.Errorf("store refined documentation: %w", err)
	}
	d.log.Info().Str("job_id", jobID).Int("chars", len(res.Text)).Msg("documentation refined")
	return doc, nil
}
