package ai_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	ai "autodoc-pipeline/internal/infra/adapters/ai"
	"autodoc-pipeline/internal/infra/logging"
)

type stubAI struct {
	name      string
	genN      int
	lastModel string
}

func (s *stubAI) ListModels(ctx context.Context) ([]string, error) {
	return []string{s.name + "-model"}, nil
}
func (s *stubAI) GetModelInfo(_ context.Context, model string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{Name: model}, nil
}
func (s *stubAI) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	s.genN++
	s.lastModel = req.Model
	return adapter.GenerateResult{Text: "ok", Provider: s.name}, nil
}

func TestRouting_ExplicitMap_Heuristics_And_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	open := &stubAI{name: "openai"}
	gem := &stubAI{name: "gemini"}

	m := ai.NewMultiAIAdapter(
		"openai",
		map[string]adapter.AIServiceAdapter{"openai": open, "gemini": gem},
		map[string]string{"custom-x": "gemini"},
	)

	gen := func(model string) string {
		res, err := m.Generate(ctx, adapter.GenerateRequest{Model: model})
		require.NoError(t, err)
		return res.Provider
	}

	assert.Equal(t, "gemini", gen("custom-x"), "explicit map wins")
	assert.Equal(t, "openai", gen("gpt-4o-mini"))
	assert.Equal(t, "gemini", gen("gemini-2.5-flash"))
	assert.Equal(t, "gemini", gen("gemma-3-27b-it"))
	assert.Equal(t, "openai", gen("unknown"), "unknown model goes to the default provider")
	assert.Equal(t, "unknown", open.lastModel)
}

func TestRouting_MissingProviderFallsBack(t *testing.T) {
	ctx := context.Background()
	gem := &stubAI{name: "gemini"}
	m := ai.NewMultiAIAdapter("gemini", map[string]adapter.AIServiceAdapter{"gemini": gem}, nil)

	res, err := m.Generate(ctx, adapter.GenerateRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", res.Provider)

	empty := ai.NewMultiAIAdapter("gemini", map[string]adapter.AIServiceAdapter{}, nil)
	_, err = empty.Generate(ctx, adapter.GenerateRequest{Model: "gpt-4o"})
	assert.True(t, domain.IsPermanent(err))
}

func TestListModels_Union(t *testing.T) {
	m := ai.NewMultiAIAdapter(
		"openai",
		map[string]adapter.AIServiceAdapter{"openai": &stubAI{name: "openai"}, "gemini": &stubAI{name: "gemini"}},
		map[string]string{"custom-x": "gemini"},
	)
	list, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"custom-x", "openai-model", "gemini-model"}, list)
}

type slowAI struct {
	stubAI
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *slowAI) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return adapter.GenerateResult{Text: "ok"}, nil
}

func TestLimitedAI_SerialisesCalls(t *testing.T) {
	inner := &slowAI{}
	l := ai.NewLimitedAI(inner, 1)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Generate(context.Background(), adapter.GenerateRequest{Model: "m"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inner.peak)
}

func TestNoopAdapter_OutlinesFiles(t *testing.T) {
	n := ai.NewNoopAIAdapter(0, logging.Nop())
	res, err := n.Generate(context.Background(), adapter.GenerateRequest{
		Model: "noop",
		Files: []model.FileRecord{{Path: "main.go", Size: 12}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "`main.go` (12 bytes)")
	assert.Equal(t, ai.ProviderNoop, res.Provider)
}

func TestGetModelInfo(t *testing.T) {
	ctx := context.Background()
	m := ai.NewMultiAIAdapter("gemini", map[string]adapter.AIServiceAdapter{"gemini": &stubAI{name: "gemini"}}, nil)

	info, err := m.GetModelInfo(ctx, "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", info.Name)

	limited := ai.NewLimitedAI(m, 1)
	info, err = limited.GetModelInfo(ctx, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", info.Name)

	empty := ai.NewMultiAIAdapter("gemini", map[string]adapter.AIServiceAdapter{}, nil)
	_, err = empty.GetModelInfo(ctx, "gemini-2.5-flash")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	noop := ai.NewNoopAIAdapter(0, logging.Nop())
	info, err = noop.GetModelInfo(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", info.Name)
}
