package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"

	"autodoc-pipeline/internal/domain"
)

// classify maps a provider error onto the permanent domain categories.
// Anything it does not recognise is returned unchanged and treated as
// transient by the caller.
func classify(provider string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			return fmt.Errorf("%s: %w: %w", provider, domain.ErrInvalidCredential, err)
		case apierr.StatusCode == 429 && apierr.Code == "insufficient_quota":
			return fmt.Errorf("%s: %w: %w", provider, domain.ErrQuotaExceeded, err)
		case apierr.StatusCode == 404:
			return fmt.Errorf("%s: %w: %w", provider, domain.ErrNotFound, err)
		}
	}
	if isGenaiNotFound(err) {
		return fmt.Errorf("%s: %w: %w", provider, domain.ErrNotFound, err)
	}

	if sentinel := classifyMessage(err.Error()); sentinel != nil {
		return fmt.Errorf("%s: %w: %w", provider, sentinel, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}

func classifyMessage(msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "api_key_invalid"),
		strings.Contains(m, "api key"),
		strings.Contains(m, "permission_denied"),
		strings.Contains(m, "unauthenticated"):
		return domain.ErrInvalidCredential
	case strings.Contains(m, "quota"):
		return domain.ErrQuotaExceeded
	case strings.Contains(m, "safety"),
		strings.Contains(m, "content_filter"):
		return domain.ErrContentBlocked
	}
	return nil
}

func isGenaiNotFound(err error) bool {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code == 404 || v.Status == "NOT_FOUND"
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code == 404 || p.Status == "NOT_FOUND"
	}
	return false
}
