package ai

import (
	"context"

	"autodoc-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

// limitedAI caps the number of generation calls in flight across every
// caller sharing the adapter (job runs and documentation refinement).
type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedAI) GetModelInfo(ctx context.Context, model string) (adapter.ModelInfo, error) {
	return l.inner.GetModelInfo(ctx, model)
}

func (l *limitedAI) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.GenerateResult{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, req)
}
