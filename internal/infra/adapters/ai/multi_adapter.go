// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.AIServiceAdapter
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

// NewMultiAIAdapter does not inject any default model; it only knows a default provider.
// Each provider adapter is responsible for its own default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.AIServiceAdapter,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"), strings.HasPrefix(l, "gemma"):
		return ProviderGemini
	case isOpenAIModel(l):
		return ProviderOpenAI
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) adapter.AIServiceAdapter {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return a
	}
	// last resort: default provider, then any configured one
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return a
	}
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.modelToProvider)+4)

	// 1) models explicitly mapped in config
	for model := range m.modelToProvider {
		if _, ok := seen[model]; !ok {
			seen[model] = struct{}{}
			out = append(out, model)
		}
	}

	// 2) union of each provider's ListModels
	for _, a := range m.byProvider {
		list, _ := a.ListModels(ctx)
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out, nil
}

func (m *MultiAIAdapter) GetModelInfo(ctx context.Context, model string) (adapter.ModelInfo, error) {
	a := m.pick(model)
	if a == nil {
		return adapter.ModelInfo{}, fmt.Errorf("%w: no AI provider configured for model %q",
			domain.ErrInvalidCredential, model)
	}
	return a.GetModelInfo(ctx, model)
}

func (m *MultiAIAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	a := m.pick(req.Model)
	if a == nil {
		return adapter.GenerateResult{}, fmt.Errorf("%w: no AI provider configured for model %q",
			domain.ErrInvalidCredential, req.Model)
	}
	return a.Generate(ctx, req)
}
