package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/infra/clock"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/metrics"
)

const (
	window = time.Minute
	day    = 24 * time.Hour
)

// Ceiling names the budget that denied a capacity check.
type Ceiling string

const (
	CeilingNone Ceiling = ""
	CeilingRPM  Ceiling = "rpm"
	CeilingTPM  Ceiling = "tpm"
	CeilingRPD  Ceiling = "rpd"
)

// Decision is the answer to a capacity check. When Allowed is false, Wait is
// the suggested delay before checking again.
type Decision struct {
	Allowed bool
	Wait    time.Duration
	Ceiling Ceiling
	Reason  string
}

// Entry is one completed call inside the trailing minute.
type Entry struct {
	At     time.Time `json:"at"`
	Tokens int       `json:"tokens"`
}

// BudgetRecord is the per-model call history owned by the governor.
type BudgetRecord struct {
	Entries []Entry   `json:"entries"`
	Daily   int       `json:"daily"`
	Anchor  time.Time `json:"anchor"`
}

// BudgetStore persists budget records so the daily counter survives restarts.
type BudgetStore interface {
	Load(ctx context.Context, model string) (BudgetRecord, bool, error)
	Save(ctx context.Context, model string, rec BudgetRecord) error
}

// Usage is a read-only view of a model's current budget consumption.
type Usage struct {
	Model    string `json:"model"`
	Requests int    `json:"requests_last_minute"`
	Tokens   int    `json:"tokens_last_minute"`
	Daily    int    `json:"requests_today"`
	Limits   Limits `json:"limits"`
}

type budget struct {
	BudgetRecord
	restored bool
}

// Governor paces calls per model against RPM, TPM and RPD ceilings.
// It is safe for concurrent use.
type Governor struct {
	mu      sync.Mutex
	limits  Table
	budgets map[string]*budget

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	store BudgetStore
	log   *zerolog.Logger

	maxWait      time.Duration
	pollInterval time.Duration
	margin       time.Duration
}

type Option func(*Governor)

func WithClock(now func() time.Time) Option { return func(g *Governor) { g.now = now } }

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) { g.sleep = sleep }
}

func WithStore(s BudgetStore) Option { return func(g *Governor) { g.store = s } }

func WithLogger(l *zerolog.Logger) Option {
	return func(g *Governor) { g.log = logging.Component(l, "RateGovernor") }
}

func WithMaxWait(d time.Duration) Option { return func(g *Governor) { g.maxWait = d } }

func WithPollInterval(d time.Duration) Option { return func(g *Governor) { g.pollInterval = d } }

func WithSafetyMargin(d time.Duration) Option { return func(g *Governor) { g.margin = d } }

func New(limits Table, opts ...Option) *Governor {
	if limits == nil {
		limits = Table{}
	}
	g := &Governor{
		limits:       limits,
		budgets:      make(map[string]*budget),
		now:          time.Now,
		sleep:        clock.Sleep,
		log:          logging.Nop(),
		maxWait:      time.Minute,
		pollInterval: time.Second,
		margin:       time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check answers whether a call costing estimate tokens may be made now for
// model. Expired entries are pruned as a side effect.
func (g *Governor) Check(model string, estimate int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check(model, estimate, g.now())
}

func (g *Governor) check(model string, estimate int, now time.Time) Decision {
	lim := g.limits.For(model)
	b := g.budget(model)
	b.roll(now)

	recentTokens := 0
	for _, e := range b.Entries {
		recentTokens += e.Tokens
	}
	recent := len(b.Entries)

	if lim.RPM > 0 && recent >= lim.RPM {
		wait := b.Entries[0].At.Add(window).Sub(now) + g.margin
		return deny(CeilingRPM, wait, fmt.Sprintf("RPM limit exceeded (%d requests/min)", lim.RPM))
	}

	if lim.TPM > 0 && recentTokens+estimate > lim.TPM {
		overflow := float64(recentTokens + estimate - lim.TPM)
		avg := float64(estimate)
		if recent > 0 {
			avg = float64(recentTokens) / float64(recent)
		}
		if avg <= 0 {
			avg = 1
		}
		calls := math.Ceil(overflow / avg)
		cadence := window
		switch {
		case lim.RPM > 0:
			cadence = window / time.Duration(lim.RPM)
		case recent > 0:
			cadence = window / time.Duration(recent)
		}
		wait := time.Duration(calls)*cadence + g.margin
		return deny(CeilingTPM, wait, fmt.Sprintf("TPM limit exceeded (%d tokens/min)", lim.TPM))
	}

	if lim.RPD > 0 && b.Daily >= lim.RPD {
		wait := b.Anchor.Add(day).Sub(now)
		return deny(CeilingRPD, wait, fmt.Sprintf("RPD limit exceeded (%d requests/day)", lim.RPD))
	}

	return Decision{Allowed: true}
}

func deny(c Ceiling, wait time.Duration, reason string) Decision {
	if wait < 0 {
		wait = 0
	}
	return Decision{Wait: wait, Ceiling: c, Reason: reason}
}

// Wait blocks until model has capacity for a call costing estimate tokens.
// It gives up with domain.ErrRateLimitTimeout after the configured maximum
// wait, and returns ctx.Err() if ctx is cancelled first.
func (g *Governor) Wait(ctx context.Context, model string, estimate int) error {
	g.restore(ctx, model)

	lim := g.limits.For(model)
	if lim.TPM > 0 && estimate > lim.TPM {
		return fmt.Errorf("%w: model %s: estimate of %d tokens exceeds %d tokens/min",
			domain.ErrRateLimitTimeout, model, estimate, lim.TPM)
	}

	start := g.now()
	for {
		d := g.Check(model, estimate)
		if d.Allowed {
			if waited := g.now().Sub(start); waited > 0 {
				metrics.ObserveGovernorWait(model, waited)
			}
			return nil
		}
		metrics.GovernorDenied(model, string(d.Ceiling))

		if g.now().Sub(start) >= g.maxWait {
			return fmt.Errorf("%w for model %s: %s", domain.ErrRateLimitTimeout, model, d.Reason)
		}

		pause := g.pollInterval
		if d.Wait > 0 && d.Wait < pause {
			pause = d.Wait
		}
		g.log.Debug().Str("model", model).Str("ceiling", string(d.Ceiling)).
			Dur("suggested_wait", d.Wait).Dur("sleep", pause).Msg("waiting for rate capacity")
		if err := g.sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// Record registers a completed call and its real token cost. It must be
// called once per completed call, never for failed attempts.
func (g *Governor) Record(ctx context.Context, model string, tokens int) error {
	if tokens < 0 {
		tokens = 0
	}
	g.mu.Lock()
	now := g.now()
	b := g.budget(model)
	b.roll(now)
	b.Entries = append(b.Entries, Entry{At: now, Tokens: tokens})
	b.Daily++
	snap := b.copyRecord()
	g.mu.Unlock()

	if g.store == nil {
		return nil
	}
	if err := g.store.Save(ctx, model, snap); err != nil {
		return fmt.Errorf("persist rate budget for %s: %w", model, err)
	}
	return nil
}

// Usage reports the current consumption for model.
func (g *Governor) Usage(model string) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.budget(model)
	b.roll(g.now())
	u := Usage{Model: model, Requests: len(b.Entries), Daily: b.Daily, Limits: g.limits.For(model)}
	for _, e := range b.Entries {
		u.Tokens += e.Tokens
	}
	return u
}

// Models lists every model with configured limits or recorded calls, sorted.
func (g *Governor) Models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modelsLocked()
}

func (g *Governor) modelsLocked() []string {
	seen := make(map[string]struct{}, len(g.limits)+len(g.budgets))
	for m := range g.limits {
		seen[m] = struct{}{}
	}
	for m := range g.budgets {
		seen[m] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Clear drops the history of model, or of every known model when model is
// empty. Persisted records are overwritten with an empty one so a restart
// does not bring the history back.
func (g *Governor) Clear(ctx context.Context, model string) error {
	g.mu.Lock()
	models := []string{model}
	if model == "" {
		models = g.modelsLocked()
	}
	for _, m := range models {
		g.budgets[m] = &budget{restored: true}
	}
	g.mu.Unlock()

	g.log.Info().Strs("models", models).Msg("rate budget cleared")
	if g.store == nil {
		return nil
	}
	var first error
	for _, m := range models {
		if err := g.store.Save(ctx, m, BudgetRecord{}); err != nil && first == nil {
			first = fmt.Errorf("clear rate budget for %s: %w", m, err)
		}
	}
	return first
}

func (g *Governor) restore(ctx context.Context, model string) {
	if g.store == nil {
		return
	}
	g.mu.Lock()
	b := g.budget(model)
	done := b.restored
	b.restored = true
	g.mu.Unlock()
	if done {
		return
	}

	rec, ok, err := g.store.Load(ctx, model)
	if err != nil {
		g.log.Warn().Err(err).Str("model", model).Msg("could not restore rate budget")
		return
	}
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b = g.budget(model)
	if len(b.Entries) == 0 && b.Daily == 0 {
		b.BudgetRecord = rec
	}
}

// budget must be called with g.mu held.
func (g *Governor) budget(model string) *budget {
	b, ok := g.budgets[model]
	if !ok {
		b = &budget{}
		g.budgets[model] = b
	}
	return b
}

// roll prunes entries outside the trailing minute and restarts the daily
// window once its anchor is more than a day old.
func (b *budget) roll(now time.Time) {
	cutoff := now.Add(-window)
	keep := b.Entries[:0]
	for _, e := range b.Entries {
		if e.At.After(cutoff) {
			keep = append(keep, e)
		}
	}
	b.Entries = keep

	if b.Anchor.IsZero() {
		b.Anchor = now
	} else if now.Sub(b.Anchor) > day {
		b.Daily = 0
		b.Anchor = now
	}
}

func (b *budget) copyRecord() BudgetRecord {
	entries := make([]Entry, len(b.Entries))
	copy(entries, b.Entries)
	return BudgetRecord{Entries: entries, Daily: b.Daily, Anchor: b.Anchor}
}
