package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/ports/adapter"
)

// RateGovernor paces calls per model. Wait blocks until a call of the given
// estimated cost is admitted; Record registers the real cost of a completed
// call exactly once.
type RateGovernor interface {
	Wait(ctx context.Context, model string, estimate int) error
	Record(ctx context.Context, model string, tokens int) error
}

// generator is the governed, retried path to the AI service shared by the
// job runner and the documentation service.
type generator struct {
	ai     adapter.AIServiceAdapter
	gov    RateGovernor
	exec   *CallExecutor
	tokens adapter.TokenEstimator
	log    *zerolog.Logger
}

func (g *generator) estimate(model, prompt string) int {
	if g.tokens != nil {
		if n := g.tokens.Estimate(model, prompt); n > 0 {
			return n
		}
	}
	return EstimateTokens(prompt)
}

// generate waits for rate capacity before every attempt and records the cost
// of the attempt that succeeds.
func (g *generator) generate(ctx context.Context, label string, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	if t := req.Temperature; t != nil && (*t < 0 || *t > 2) {
		return adapter.GenerateResult{}, domain.ErrInvalidTemperature
	}
	est := g.estimate(req.Model, req.Prompt)

	var res adapter.GenerateResult
	err := g.exec.Do(ctx, label, func(ctx context.Context, attempt int) error {
		if err := g.gov.Wait(ctx, req.Model, est); err != nil {
			return err
		}
		out, err := g.ai.Generate(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out.Text) == "" {
			return domain.ErrEmptyReply
		}

		cost := out.Usage.TotalTokens
		if cost <= 0 {
			cost = est + EstimateTokens(out.Text)
		}
		if err := g.gov.Record(ctx, req.Model, cost); err != nil {
			g.log.Warn().Err(err).Str("model", req.Model).Msg("could not persist rate budget")
		}
		res = out
		return nil
	})
	return res, err
}
