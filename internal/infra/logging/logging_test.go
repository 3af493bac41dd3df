//go:build !integration

package logging

import (
	"bytes"
	"context"
	"testing"

	"autodoc-pipeline/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	assert.Equal(t, "***", Redact("short", false))
	assert.Equal(t, "AIza...yz", Redact("AIzaSyabcdefxyz", false))
	assert.Equal(t, "AIzaSyabcdefxyz", Redact("AIzaSyabcdefxyz", true))
}

func TestWithAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, false, &buf)

	ctx := WithJobID(WithTraceID(context.Background(), "t-1"), "job-42")
	With(ctx, Component(base, "runner")).Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"job_id":"job-42"`)
	assert.Contains(t, out, `"trace_id":"t-1"`)
	assert.Contains(t, out, `"component":"runner"`)
}
