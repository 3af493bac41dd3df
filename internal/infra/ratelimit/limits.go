package ratelimit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Limits are the three ceilings enforced per model. Zero disables a ceiling.
type Limits struct {
	RPM int // requests per minute
	TPM int // tokens per minute
	RPD int // requests per rolling day
}

// DefaultLimits apply to models missing from the table.
var DefaultLimits = Limits{RPM: 60, TPM: 1_000_000}

// Table maps model names to their limits.
type Table map[string]Limits

// For returns the limits configured for model, or DefaultLimits.
func (t Table) For(model string) Limits {
	if l, ok := t[model]; ok {
		return l
	}
	return DefaultLimits
}

// ParseModelLimits parses the three raw limit strings of one model.
func ParseModelLimits(rpm, tpm, rpd string) (Limits, error) {
	var (
		l   Limits
		err error
	)
	if l.RPM, err = ParseLimit(rpm); err != nil {
		return Limits{}, fmt.Errorf("rpm: %w", err)
	}
	if l.TPM, err = ParseLimit(tpm); err != nil {
		return Limits{}, fmt.Errorf("tpm: %w", err)
	}
	if l.RPD, err = ParseLimit(rpd); err != nil {
		return Limits{}, fmt.Errorf("rpd: %w", err)
	}
	return l, nil
}

// ParseLimit understands the formats printed by provider quota dashboards:
// a plain number ("15"), "current / limit" ("2 / 5"), K/M suffixes
// ("420.13K / 250K", "1.5M") and "Unlimited". Empty, zero and unlimited all
// return 0, which disables the ceiling.
func ParseLimit(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	switch strings.ToLower(s) {
	case "", "unlimited", "ilimitado", "none", "-":
		return 0, nil
	}

	s = strings.ReplaceAll(strings.ToUpper(s), ",", "")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1_000, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "M")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative limit %q", raw)
	}
	return int(math.Round(v * mult)), nil
}
