package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/infra/logging"
)

const ProviderNoop = "noop"

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.AIServiceAdapter for local/dev runs.
// It never leaves the process and answers with an outline of the batch.
type NoopAIAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

// NewNoopAIAdapter constructs the noop adapter.
func NewNoopAIAdapter(delay time.Duration, log *zerolog.Logger) *NoopAIAdapter {
	return &NoopAIAdapter{delay: delay, log: logging.Component(log, "NoopAI")}
}

func (a *NoopAIAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return adapter.GenerateResult{}, ctx.Err()
	}

	var sb strings.Builder
	if len(req.Files) == 0 {
		sb.WriteString("Refined documentation (noop).\n")
	} else {
		fmt.Fprintf(&sb, "Documentation outline for %d file(s):\n\n", len(req.Files))
		for _, f := range req.Files {
			fmt.Fprintf(&sb, "- `%s` (%d bytes)\n", f.Path, f.Size)
		}
	}
	a.log.Debug().Str("model", req.Model).Int("files", len(req.Files)).Int("prompt_chars", len(req.Prompt)).Msg("noop generate")
	return adapter.GenerateResult{Text: sb.String(), Provider: ProviderNoop}, nil
}

// GetModelInfo accepts any model name; the noop provider answers for all of
// them.
func (a *NoopAIAdapter) GetModelInfo(_ context.Context, model string) (adapter.ModelInfo, error) {
	if model == "" {
		model = "noop-ai-model"
	}
	return adapter.ModelInfo{
		Name:        model,
		Description: "Noop AI model for testing",
		MaxTokens:   1024,
		Supports:    []string{"text"},
	}, nil
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-ai-model"}, nil
}
