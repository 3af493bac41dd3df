package adapter

import (
	"context"

	"autodoc-pipeline/internal/domain/model"
)

// ModelInfo describes a model.
type ModelInfo struct {
	Name        string
	Description string
	MaxTokens   int
	Supports    []string
}

// Usage for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateRequest carries everything a provider needs for one call. Prompt is
// the fully built instruction; Files are kept for providers that want to send
// them as separate parts.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Temperature *float64
	Files       []model.FileRecord
}

// GenerateResult is the provider reply. RawJSON is an optional diagnostic
// payload stored next to the result.
type GenerateResult struct {
	Text     string
	RawJSON  string
	Usage    Usage
	Provider string
}

// AIServiceAdapter is the port for the generative text service.
//
// Implementations must translate provider failures for invalid credentials,
// quota exhaustion and policy rejection into domain.ErrInvalidCredential,
// domain.ErrQuotaExceeded and domain.ErrContentBlocked so callers can stop
// retrying them.
type AIServiceAdapter interface {
	ListModels(ctx context.Context) ([]string, error)
	GetModelInfo(ctx context.Context, model string) (ModelInfo, error)
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// TokenEstimator estimates the token cost of a text before it is sent.
type TokenEstimator interface {
	Estimate(model, text string) int
}
