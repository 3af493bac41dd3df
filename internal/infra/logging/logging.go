// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"autodoc-pipeline/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return NewWithWriter(cfg, dev, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(cfg config.LogConfig, dev bool, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(w).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

// Nop returns a disabled logger, handy for tests and optional wiring.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Component derives a child logger tagged with the component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	if base == nil {
		base = Nop()
	}
	l := base.With().Str("component", name).Logger()
	return &l
}

type ctxKey string

const (
	ctxTraceID ctxKey = "trace_id"
	ctxJobID   ctxKey = "job_id"
)

// With attaches the trace and job identifiers found in ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(ctxTraceID).(string); ok {
		l = l.Str("trace_id", v)
	}
	if v, ok := ctx.Value(ctxJobID).(string); ok {
		l = l.Str("job_id", v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "JobRunner.Process")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact hides secrets when not in dev; keep short/preview.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxJobID, id)
}
