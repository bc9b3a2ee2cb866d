package classifier

import (
	"context"
	"sort"
	"strings"

	"github.com/pbaille/triage/internal/config"
)

const heuristicConfidence = 0.8

type heuristic struct {
	words       []string
	label       string
	explanation string
}

// Checked in order; the first bucket with a matching word wins.
var heuristics = []heuristic{
	{[]string{"clean", "organize", "house", "home", "garage"}, "home", "Task involves home maintenance and organization"},
	{[]string{"work", "meeting", "project", "deadline"}, "work", "Task is work-related and involves professional activities"},
	{[]string{"doctor", "appointment", "pay", "tax", "bill"}, "admin", "Task involves administrative or financial responsibilities"},
	{[]string{"urgent", "!", "asap", "immediately"}, "urgent", "Task has urgent priority indicators"},
}

// MockEngine answers deterministically: configured patterns first, then the
// configured default, then keyword heuristics.
type MockEngine struct {
	cfg      *config.LabelingConfig
	patterns []string
}

// NewMock creates a mock engine. Patterns are tried longest first, ties in
// alphabetical order.
func NewMock(cfg *config.LabelingConfig) *MockEngine {
	patterns := make([]string, 0, len(cfg.MockMode.Responses.Patterns))
	for p := range cfg.MockMode.Responses.Patterns {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	return &MockEngine{cfg: cfg, patterns: patterns}
}

// Label returns the canned answer for req.
func (m *MockEngine) Label(_ context.Context, req Request) (*Result, error) {
	req = resolve(m.cfg, req)
	if req.DryRun {
		return dryRun(m.cfg, req.Mode), nil
	}

	meta := Meta{
		Version:        Version,
		ReasoningLevel: m.cfg.ReasoningLevel,
		Model:          "mock",
		Mode:           req.Mode,
	}
	lower := strings.ToLower(req.Text)

	for _, p := range m.patterns {
		if p == "" || !strings.Contains(lower, strings.ToLower(p)) {
			continue
		}
		r := m.cfg.MockMode.Responses.Patterns[p]
		meta.PatternMatched = p
		return canned(r, SourceMockConfig, meta), nil
	}

	if d := m.cfg.MockMode.Responses.Default; d != nil {
		return canned(*d, SourceMockDefault, meta), nil
	}

	label, explanation := "personal", "Task appears to be personal in nature"
	for _, h := range heuristics {
		if containsAny(lower, h.words) {
			label, explanation = h.label, h.explanation
			break
		}
	}
	return &Result{
		Labels:      []string{label},
		Explanation: explanation,
		Confidence:  heuristicConfidence,
		Source:      SourceMockHeuristic,
		Meta:        meta,
	}, nil
}

func canned(r config.MockResponse, source string, meta Meta) *Result {
	return &Result{
		Labels:      append([]string(nil), r.Labels...),
		Explanation: r.Explanation,
		Confidence:  r.Confidence,
		Source:      source,
		Meta:        meta,
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
