package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/config"
	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	aiAdapters "autodoc-pipeline/internal/infra/adapters/ai"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/ratelimit"
	red "autodoc-pipeline/internal/infra/redis"
	"autodoc-pipeline/internal/infra/scheduler"
)

func buildGovernor(cfg *config.Config, redisClient *red.Client, logger *zerolog.Logger) (*ratelimit.Governor, error) {
	table := ratelimit.Table{}
	for name, raw := range cfg.Limits {
		l, err := ratelimit.ParseModelLimits(raw.RPM, raw.TPM, raw.RPD)
		if err != nil {
			return nil, fmt.Errorf("limits for %s: %w", name, err)
		}
		table[name] = l
	}
	opts := []ratelimit.Option{
		ratelimit.WithLogger(logger),
		ratelimit.WithMaxWait(cfg.Governor.MaxWait),
		ratelimit.WithPollInterval(cfg.Governor.PollInterval),
		ratelimit.WithSafetyMargin(cfg.Governor.SafetyMargin),
	}
	if redisClient != nil {
		opts = append(opts, ratelimit.WithStore(red.NewBudgetStore(redisClient, cfg.Redis.TTL)))
	}
	return ratelimit.New(table, opts...), nil
}

// buildAI registers every provider that has a key. Calls are serialised
// because a job runs one batch at a time.
func buildAI(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	if cfg.AI.Noop {
		logger.Warn().Msg("AI adapter: noop, replies are generated locally")
		return aiAdapters.NewNoopAIAdapter(cfg.AI.NoopDelay, logger), nil
	}

	providers := map[string]adapter.AIServiceAdapter{}
	if cfg.AI.GeminiKey != "" {
		g, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers[aiAdapters.ProviderGemini] = g
		logger.Info().Str("key", logging.Redact(cfg.AI.GeminiKey, cfg.Runtime.Dev)).Msg("AI adapter: Gemini")
	}
	if cfg.AI.OpenAIKey != "" {
		o, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers[aiAdapters.ProviderOpenAI] = o
		logger.Info().Str("key", logging.Redact(cfg.AI.OpenAIKey, cfg.Runtime.Dev)).
			Str("base_url", cfg.AI.OpenAIBaseURL).Msg("AI adapter: OpenAI")
	}
	multi := aiAdapters.NewMultiAIAdapter(cfg.AI.DefaultProvider, providers, cfg.AI.ModelProviders)
	return aiAdapters.NewLimitedAI(multi, 1), nil
}

// checkModel asks the provider for the configured model before any batch is
// sent. An unknown model or a rejected key stops the run; other failures are
// left to the per-batch retry policy.
func checkModel(ctx context.Context, ai adapter.AIServiceAdapter, name string, logger *zerolog.Logger) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	info, err := ai.GetModelInfo(cctx, name)
	switch {
	case err == nil:
		logger.Info().Str("model", info.Name).Str("description", info.Description).Msg("model available")
		return nil
	case errors.Is(err, domain.ErrNotFound) || domain.IsPermanent(err):
		return err
	default:
		logger.Warn().Err(err).Str("model", name).Msg("model check skipped")
		return nil
	}
}

func buildTokenCounter(logger *zerolog.Logger) adapter.TokenEstimator {
	return aiAdapters.NewTokenCounter(logger)
}

// loadTemplate reads the instruction template. Without an explicit ID the
// template is identified by a name-based UUID of its content, so a resumed job
// built from the same text carries the same ID.
func loadTemplate(cfg config.JobConfig) (model.Template, error) {
	content := cfg.Template
	if cfg.TemplateFile != "" {
		b, err := os.ReadFile(cfg.TemplateFile)
		if err != nil {
			return model.Template{}, fmt.Errorf("read template: %w", err)
		}
		content = string(b)
	}
	t := model.Template{ID: cfg.TemplateID, Name: cfg.TemplateName, Content: strings.TrimSpace(content)}
	if t.ID == "" {
		t.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(t.Content)).String()
	}
	if t.Name == "" {
		t.Name = "default"
	}
	return t, nil
}

// holdJobLock takes the job lock and keeps it fresh until release is called.
func holdJobLock(ctx context.Context, locker red.Locker, jobID string, logger *zerolog.Logger) (func(), error) {
	key := red.JobLockKey(jobID)
	token, err := locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}

	keeper := scheduler.NewScheduler("job-lock-refresh", lockTTL/3, 10*time.Second, func(ctx context.Context) error {
		return locker.Refresh(ctx, key, token, lockTTL)
	}, logger)
	keeper.Start(ctx)

	return func() {
		keeper.Stop()
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := locker.Unlock(uctx, key, token); err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("job lock release failed")
		}
	}, nil
}
