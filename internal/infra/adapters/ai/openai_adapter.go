package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/infra/metrics"
)

const ProviderOpenAI = "openai"

const openAISystemPrompt = "You write technical documentation for software repositories."

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.AIServiceAdapter using the Chat Completions
// API. A base URL makes it usable against OpenAI-compatible gateways.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	maxOut int
}

func NewOpenAIAdapter(apiKey, baseURL, model string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(2 * time.Minute),
		// retries are owned by the call executor
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: model, maxOut: maxOut}, nil
}

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	iter := o.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		out = append(out, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return []string{o.model}, classify(ProviderOpenAI, err)
	}
	if len(out) == 0 {
		out = []string{o.model}
	}
	return out, nil
}

func (o *OpenAIAdapter) GetModelInfo(ctx context.Context, model string) (adapter.ModelInfo, error) {
	m, err := o.client.Models.Get(ctx, modelOrDefault(model, o.model))
	if err != nil {
		return adapter.ModelInfo{}, classify(ProviderOpenAI, err)
	}
	return adapter.ModelInfo{
		Name:        m.ID,
		Description: "OpenAI Chat Completions model owned by " + m.OwnedBy,
		MaxTokens:   0,
		Supports:    []string{"text"},
	}, nil
}

func (o *OpenAIAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	model := modelOrDefault(req.Model, o.model)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAISystemPrompt),
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.ObserveCall(ProviderOpenAI, model, 0, 0, 0, time.Since(start), false)
		return adapter.GenerateResult{}, classify(ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveCall(ProviderOpenAI, model, 0, 0, 0, time.Since(start), false)
		return adapter.GenerateResult{}, fmt.Errorf("%s: %w", ProviderOpenAI, domain.ErrEmptyReply)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		metrics.ObserveCall(ProviderOpenAI, model, 0, 0, 0, time.Since(start), false)
		return adapter.GenerateResult{}, fmt.Errorf("%s: %w", ProviderOpenAI, domain.ErrContentBlocked)
	}

	u := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	metrics.ObserveCall(ProviderOpenAI, model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, time.Since(start), true)

	return adapter.GenerateResult{
		Text:     choice.Message.Content,
		RawJSON:  resp.RawJSON(),
		Usage:    u,
		Provider: ProviderOpenAI,
	}, nil
}
