//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"autodoc-pipeline/internal/infra/logging"
)

func TestSchedulerRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("count", 5*time.Millisecond, 0, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("keeps going")
	}, logging.Nop())

	s.Start(context.Background())
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler("noop", time.Hour, 0, func(context.Context) error { return nil }, nil)
	s.Start(ctx)
	cancel()

	done := s.done
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after parent cancellation")
	}
	s.Stop()
}
