// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/infra/metrics"
)

const ProviderGemini = "gemini"

var _ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, classify(ProviderGemini, err)
		}
		if m.Name != "" {
			out = append(out, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	if len(out) == 0 && g.defaultModel != "" {
		out = []string{g.defaultModel}
	}
	return out, nil
}

func (g *GeminiAdapter) GetModelInfo(ctx context.Context, model string) (adapter.ModelInfo, error) {
	m, err := g.client.Models.Get(ctx, modelOrDefault(model, g.defaultModel), nil)
	if err != nil {
		return adapter.ModelInfo{}, classify(ProviderGemini, err)
	}
	return adapter.ModelInfo{
		Name:        strings.TrimPrefix(m.Name, "models/"),
		Description: m.Description,
		MaxTokens:   int(m.InputTokenLimit),
		Supports:    m.SupportedActions,
	}, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	model := modelOrDefault(req.Model, g.defaultModel)
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		metrics.ObserveCall(ProviderGemini, model, 0, 0, 0, time.Since(start), false)
		return adapter.GenerateResult{}, classify(ProviderGemini, err)
	}

	if err := blocked(resp); err != nil {
		metrics.ObserveCall(ProviderGemini, model, 0, 0, 0, time.Since(start), false)
		return adapter.GenerateResult{}, err
	}

	u := adapter.Usage{}
	if resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	metrics.ObserveCall(ProviderGemini, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, time.Since(start), true)

	raw, _ := json.Marshal(resp)
	return adapter.GenerateResult{
		Text:     responseText(resp),
		RawJSON:  string(raw),
		Usage:    u,
		Provider: ProviderGemini,
	}, nil
}

// blocked reports a safety rejection of the prompt or of the only candidate.
func blocked(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		return fmt.Errorf("%s: %w: prompt blocked (%s)", ProviderGemini, domain.ErrContentBlocked, pf.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return fmt.Errorf("%s: %w: reply blocked", ProviderGemini, domain.ErrContentBlocked)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
