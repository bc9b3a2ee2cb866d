// Package rules evaluates declarative match rules against task text.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/logging"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// EvaluateRule reports whether rule matches text. An invalid regex is an
// error; callers treat it as no match.
func EvaluateRule(rule config.Rule, text string) (bool, error) {
	switch rule.Kind() {
	case config.MatchURL:
		return urlPattern.MatchString(text), nil
	case config.MatchContains:
		return containsAny(text, rule.Contains), nil
	case config.MatchPrefix:
		return rule.Prefix != "" && strings.HasPrefix(strings.TrimSpace(text), rule.Prefix), nil
	case config.MatchRegex:
		re, err := compile(rule.Regex)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	}
	return false, nil
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile rule regex %q: %w", pattern, err)
	}
	return re, nil
}

type compiledRule struct {
	rule config.Rule
	re   *regexp.Regexp
	bad  bool
}

// Matcher applies a fixed rule list. Regexes are compiled once; a rule with
// an invalid pattern is logged at construction and never matches.
type Matcher struct {
	rules  []compiledRule
	logger *zap.Logger
}

// NewMatcher compiles rules.
func NewMatcher(rules []config.Rule, logger *zap.Logger) *Matcher {
	logger = logging.OrNop(logger)
	m := &Matcher{rules: make([]compiledRule, 0, len(rules)), logger: logger}
	for i, r := range rules {
		cr := compiledRule{rule: r}
		if r.Kind() == config.MatchRegex {
			re, err := compile(r.Regex)
			if err != nil {
				logger.Warn("RULE_INVALID_REGEX: rule will never match",
					zap.Int("rule_index", i),
					zap.String("label", r.Label),
					zap.Error(err),
				)
				cr.bad = true
			}
			cr.re = re
		}
		m.rules = append(m.rules, cr)
	}
	return m
}

// Rules returns the rule list in order.
func (m *Matcher) Rules() []config.Rule {
	out := make([]config.Rule, len(m.rules))
	for i, cr := range m.rules {
		out[i] = cr.rule
	}
	return out
}

func (m *Matcher) matches(cr compiledRule, text string) bool {
	if cr.bad {
		return false
	}
	if cr.re != nil {
		return cr.re.MatchString(text)
	}
	ok, _ := EvaluateRule(cr.rule, text)
	return ok
}

// Match returns the rules matching text, in list order.
func (m *Matcher) Match(text string) []config.Rule {
	var out []config.Rule
	for _, cr := range m.rules {
		if m.matches(cr, text) {
			out = append(out, cr.rule)
		}
	}
	return out
}

// Apply runs every rule against the task content. Each matching rule
// contributes its label and a provenance record; duplicates are kept.
func (m *Matcher) Apply(task domain.Task) ([]string, []domain.AppliedRule) {
	var (
		labels []string
		prov   []domain.AppliedRule
	)
	for _, r := range m.Match(task.Content) {
		labels = append(labels, r.Label)
		prov = append(prov, domain.AppliedRule{
			Label:           r.Label,
			Source:          domain.SourceRule,
			Confidence:      1.0,
			Explanation:     fmt.Sprintf("matched %s rule", r.Kind()),
			MoveTo:          r.MoveTo,
			CreateIfMissing: r.CreateIfMissing,
			Priority:        r.RoutePriority(),
			Matcher:         string(r.Kind()),
		})
	}
	return labels, prov
}
