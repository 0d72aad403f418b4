// Package policy implements site rule matching and message classification.
// Both are stateless: the active rule set and keyword lists are immutable
// values that are replaced wholesale on reconfiguration.
package policy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// CompiledRule is a Rule with its pattern compiled to an anchored regexp.
// A nil regexp never matches.
type CompiledRule struct {
	domain.Rule
	re *regexp.Regexp
}

// Matches reports whether the rule pattern fully matches s.
func (r CompiledRule) Matches(s string) bool {
	return r.re != nil && r.re.MatchString(s)
}

// Compile compiles a rule. A pattern that cannot be compiled yields a rule
// that never matches.
func Compile(rule domain.Rule) CompiledRule {
	return CompiledRule{Rule: rule, re: CompilePattern(rule.Pattern)}
}

// CompileAll compiles rules preserving their order.
func CompileAll(rules []domain.Rule) []CompiledRule {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Compile(r))
	}
	return out
}

// CompilePattern converts a restricted glob to a full-string regexp:
// "*" matches any sequence, every other character is literal.
// Returns nil for an empty or uncompilable pattern.
func CompilePattern(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}

// ClassifyURL returns the first rule, in order, whose pattern fully matches rawURL.
func ClassifyURL(rawURL string, rules []CompiledRule) (domain.Rule, bool) {
	for _, r := range rules {
		if r.Matches(rawURL) {
			return r.Rule, true
		}
	}
	return domain.Rule{}, false
}

// NormalizeURL gives an absolute URL with an empty path the root path "/",
// the form browsers report for a bare origin. Anything else is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	if u.Path == "" && u.RawPath == "" && u.Opaque == "" {
		u.Path = "/"
		return u.String()
	}
	return rawURL
}
