package ai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/infra/logging"
)

var _ adapter.TokenEstimator = (*TokenCounter)(nil)

// TokenCounter estimates prompt costs before a call. OpenAI-family models
// are counted with their tiktoken encoding; everything else, and any model
// whose encoding cannot be loaded, falls back to one token per four chars.
type TokenCounter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken // nil entry: encoding unavailable
	log  *zerolog.Logger
}

func NewTokenCounter(log *zerolog.Logger) *TokenCounter {
	return &TokenCounter{encs: map[string]*tiktoken.Tiktoken{}, log: logging.Component(log, "TokenCounter")}
}

func (t *TokenCounter) Estimate(model, text string) int {
	if isOpenAIModel(strings.ToLower(model)) {
		if enc := t.encoding(model); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	return (len(text) + 3) / 4
}

func (t *TokenCounter) encoding(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		t.log.Warn().Err(err).Str("model", model).Msg("tiktoken encoding unavailable, using char estimate")
		enc = nil
	}
	t.encs[model] = enc
	return enc
}

func isOpenAIModel(lower string) bool {
	return strings.HasPrefix(lower, "gpt") ||
		strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") ||
		strings.HasPrefix(lower, "o4")
}
