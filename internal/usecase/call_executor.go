package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/infra/clock"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/metrics"
)

// RetryPolicy bounds the attempts made for one external call. The delay
// before attempt n+1 is BaseDelay * 2^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns the pause that follows the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// CallExecutor runs an operation with bounded exponential backoff. Failures
// classified by domain.IsPermanent and context cancellation are returned
// immediately.
type CallExecutor struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	log    *zerolog.Logger
}

func NewCallExecutor(policy RetryPolicy, log *zerolog.Logger) *CallExecutor {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	return &CallExecutor{
		policy: policy,
		sleep:  clock.Sleep,
		log:    logging.Component(log, "CallExecutor"),
	}
}

// WithSleeper replaces the backoff sleep; tests use it to avoid real delays.
func (e *CallExecutor) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *CallExecutor {
	e.sleep = sleep
	return e
}

func (e *CallExecutor) Policy() RetryPolicy { return e.policy }

// Do calls op until it succeeds, fails permanently, the context ends or the
// attempts run out. The error of the last attempt is returned wrapped.
func (e *CallExecutor) Do(ctx context.Context, label string, op func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		err = op(ctx, attempt)
		if err == nil {
			metrics.IncAttempt("success")
			return nil
		}

		switch {
		case isContextErr(ctx, err):
			metrics.IncAttempt("cancelled")
			return err
		case domain.IsPermanent(err):
			metrics.IncAttempt("permanent")
			e.log.Warn().Err(err).Str("call", label).Int("attempt", attempt).Msg("permanent failure, not retrying")
			return err
		case attempt == e.policy.MaxAttempts:
			metrics.IncAttempt("exhausted")
			return fmt.Errorf("%s failed after %d attempts: %w", label, attempt, err)
		}

		delay := e.policy.Delay(attempt)
		metrics.IncAttempt("retry")
		e.log.Warn().Err(err).Str("call", label).Int("attempt", attempt).Dur("backoff", delay).Msg("transient failure, retrying")
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func isContextErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
