// Package ignore decides which selected files are left out of a job.
package ignore

import (
	"errors"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrInvalidPattern = errors.New("invalid ignore pattern")

// PatternError reports the rule that failed to compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string { return "ignore pattern " + e.Pattern + ": " + e.Err.Error() }

func (e *PatternError) Unwrap() error { return e.Err }

// Rule is one ignore pattern. Inactive rules are kept but never match.
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Active  bool   `json:"active" yaml:"active"`
}

type matcher struct {
	raw       string
	glob      bool   // doublestar pattern; otherwise substring
	substring string // lowercased
}

// Filter matches relative, slash-separated paths case-insensitively.
//
// A pattern without '*' matches any path that contains it. A pattern with
// '*' is a doublestar glob matched against the whole path, against the base
// name, and at any depth.
type Filter struct {
	matchers []matcher
}

// New compiles the active rules.
func New(rules []Rule) (*Filter, error) {
	f := &Filter{}
	for _, r := range rules {
		p := strings.TrimSpace(r.Pattern)
		if !r.Active || p == "" {
			continue
		}
		p = strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
		if !strings.Contains(p, "*") {
			f.matchers = append(f.matchers, matcher{raw: r.Pattern, substring: p})
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: r.Pattern, Err: ErrInvalidPattern}
		}
		f.matchers = append(f.matchers, matcher{raw: r.Pattern, glob: true, substring: p})
	}
	return f, nil
}

// FromPatterns compiles patterns as active rules.
func FromPatterns(patterns []string) (*Filter, error) {
	rules := make([]Rule, len(patterns))
	for i, p := range patterns {
		rules[i] = Rule{Pattern: p, Active: true}
	}
	return New(rules)
}

// Ignored reports whether rel matches any active rule.
func (f *Filter) Ignored(rel string) bool {
	if f == nil || len(f.matchers) == 0 {
		return false
	}
	p := strings.ToLower(strings.ReplaceAll(rel, `\`, "/"))
	base := path.Base(p)
	for _, m := range f.matchers {
		if !m.glob {
			if strings.Contains(p, m.substring) {
				return true
			}
			continue
		}
		if globMatch(m.substring, p) || globMatch(m.substring, base) || globMatch("**/"+m.substring, p) {
			return true
		}
	}
	return false
}

// Len is the number of active rules.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.matchers)
}

// Patterns returns the raw active patterns.
func (f *Filter) Patterns() []string {
	out := make([]string, 0, f.Len())
	if f == nil {
		return out
	}
	for _, m := range f.matchers {
		out = append(out, m.raw)
	}
	return out
}

func globMatch(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
