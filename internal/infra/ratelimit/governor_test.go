//go:build !integration

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodoc-pipeline/internal/domain"
)

// ---- Fakes ----

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 12, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()
	c.Advance(d)
	return nil
}

type memBudgetStore struct {
	mu   sync.Mutex
	recs map[string]BudgetRecord
}

func newMemBudgetStore() *memBudgetStore {
	return &memBudgetStore{recs: map[string]BudgetRecord{}}
}

func (s *memBudgetStore) Load(ctx context.Context, model string) (BudgetRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[model]
	return r, ok, nil
}

func (s *memBudgetStore) Save(ctx context.Context, model string, rec BudgetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[model] = rec
	return nil
}

func newTestGovernor(clk *fakeClock, limits Table, opts ...Option) *Governor {
	base := []Option{WithClock(clk.Now), WithSleeper(clk.Sleep)}
	return New(limits, append(base, opts...)...)
}

// ---- Tests ----

func TestGovernorRPMAdmission(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"gemini-2.5-flash": {RPM: 2}})

	require.NoError(t, g.Record(ctx, "gemini-2.5-flash", 10))
	require.NoError(t, g.Record(ctx, "gemini-2.5-flash", 10))

	d := g.Check("gemini-2.5-flash", 10)
	assert.False(t, d.Allowed)
	assert.Equal(t, CeilingRPM, d.Ceiling)
	assert.Equal(t, 61*time.Second, d.Wait)

	clk.Advance(61 * time.Second)
	assert.True(t, g.Check("gemini-2.5-flash", 10).Allowed)
}

func TestGovernorTPMEnforcement(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"m": {TPM: 1000}})

	require.NoError(t, g.Record(ctx, "m", 300))
	require.NoError(t, g.Record(ctx, "m", 300))

	d := g.Check("m", 500)
	assert.False(t, d.Allowed)
	assert.Equal(t, CeilingTPM, d.Ceiling)
	assert.Greater(t, d.Wait, time.Duration(0))

	assert.True(t, g.Check("m", 400).Allowed, "exactly at the ceiling is allowed")
}

func TestGovernorTPMWaitUsesAverageCost(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"m": {RPM: 10, TPM: 1000}})

	require.NoError(t, g.Record(ctx, "m", 300))
	require.NoError(t, g.Record(ctx, "m", 300))

	// overflow 100 tokens, average call 300 tokens -> one call must age out,
	// at 10 rpm that is 6s, plus the 1s margin.
	d := g.Check("m", 500)
	assert.Equal(t, 7*time.Second, d.Wait)
}

func TestGovernorRPDRollingDay(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"m": {RPD: 2}})

	require.NoError(t, g.Record(ctx, "m", 1))
	clk.Advance(time.Hour)
	require.NoError(t, g.Record(ctx, "m", 1))

	d := g.Check("m", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, CeilingRPD, d.Ceiling)
	assert.Equal(t, 23*time.Hour, d.Wait)

	clk.Advance(23*time.Hour + time.Second)
	assert.True(t, g.Check("m", 1).Allowed)
	assert.Equal(t, 0, g.Usage("m").Daily)
}

func TestGovernorReportsFirstViolatedCeiling(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"m": {RPM: 1, TPM: 10, RPD: 1}})

	require.NoError(t, g.Record(ctx, "m", 50))

	d := g.Check("m", 50)
	assert.Equal(t, CeilingRPM, d.Ceiling)
}

func TestGovernorUnboundedAndDefaults(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"free": {}})

	for i := 0; i < 500; i++ {
		require.NoError(t, g.Record(ctx, "free", 10_000))
	}
	assert.True(t, g.Check("free", 10_000).Allowed)

	for i := 0; i < DefaultLimits.RPM; i++ {
		require.NoError(t, g.Record(ctx, "unknown-model", 1))
	}
	d := g.Check("unknown-model", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, CeilingRPM, d.Ceiling)
}

func TestGovernorWait(t *testing.T) {
	ctx := context.Background()

	t.Run("should return immediately when capacity is available", func(t *testing.T) {
		clk := newFakeClock()
		g := newTestGovernor(clk, Table{"m": {RPM: 5}})
		require.NoError(t, g.Wait(ctx, "m", 10))
		assert.Equal(t, 0, clk.sleeps)
	})

	t.Run("should poll until the oldest call ages out", func(t *testing.T) {
		clk := newFakeClock()
		g := newTestGovernor(clk, Table{"m": {RPM: 1}})
		start := clk.Now()
		require.NoError(t, g.Record(ctx, "m", 10))

		require.NoError(t, g.Wait(ctx, "m", 10))
		assert.Equal(t, time.Minute, clk.Now().Sub(start))
		assert.Equal(t, 60, clk.sleeps)
	})

	t.Run("should time out when capacity never frees up", func(t *testing.T) {
		clk := newFakeClock()
		g := newTestGovernor(clk, Table{"m": {RPD: 1}}, WithMaxWait(5*time.Second))
		require.NoError(t, g.Record(ctx, "m", 10))

		err := g.Wait(ctx, "m", 10)
		assert.True(t, errors.Is(err, domain.ErrRateLimitTimeout), "got %v", err)
		assert.Equal(t, 5, clk.sleeps)
	})

	t.Run("should fail fast when the estimate alone exceeds tpm", func(t *testing.T) {
		clk := newFakeClock()
		g := newTestGovernor(clk, Table{"m": {TPM: 100}})

		err := g.Wait(ctx, "m", 200)
		assert.ErrorIs(t, err, domain.ErrRateLimitTimeout)
		assert.Equal(t, 0, clk.sleeps)
	})

	t.Run("should honour context cancellation", func(t *testing.T) {
		clk := newFakeClock()
		g := newTestGovernor(clk, Table{"m": {RPM: 1}})
		require.NoError(t, g.Record(ctx, "m", 10))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, g.Wait(cctx, "m", 10), context.Canceled)
	})
}

func TestGovernorRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newMemBudgetStore()

	first := newTestGovernor(clk, Table{"m": {RPD: 2}}, WithStore(store), WithMaxWait(2*time.Second))
	require.NoError(t, first.Record(ctx, "m", 5))
	require.NoError(t, first.Record(ctx, "m", 5))

	second := newTestGovernor(clk, Table{"m": {RPD: 2}}, WithStore(store), WithMaxWait(2*time.Second))
	err := second.Wait(ctx, "m", 5)
	assert.ErrorIs(t, err, domain.ErrRateLimitTimeout)
	assert.Equal(t, 2, second.Usage("m").Daily)
}

func TestGovernorClear(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	g := newTestGovernor(clk, Table{"m": {RPM: 1}})
	require.NoError(t, g.Record(ctx, "m", 1))

	require.NoError(t, g.Clear(ctx, "m"))
	assert.True(t, g.Check("m", 1).Allowed)
}

func TestGovernorClearOverwritesStoredBudget(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newMemBudgetStore()
	g := newTestGovernor(clk, Table{"m": {RPD: 1}, "other": {RPM: 5}}, WithStore(store))
	require.NoError(t, g.Record(ctx, "m", 10))
	assert.False(t, g.Check("m", 1).Allowed)

	require.NoError(t, g.Clear(ctx, ""))
	assert.True(t, g.Check("m", 1).Allowed)
	assert.Equal(t, []string{"m", "other"}, g.Models())

	restarted := newTestGovernor(clk, Table{"m": {RPD: 1}}, WithStore(store))
	assert.NoError(t, restarted.Wait(ctx, "m", 1))
	assert.Equal(t, 0, restarted.Usage("m").Daily)
}
