// Package labeling assigns labels to tasks through an ordered fallback chain
// and consolidates the result.
package labeling

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/classifier"
	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/llm"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/rules"
)

const maxGPTLabels = 2

// Outcome is what one strategy produced. A nil outcome means "try the next
// strategy".
type Outcome struct {
	Labels     []string
	Provenance []domain.AppliedRule
}

// Strategy is one stage of the chain.
type Strategy interface {
	Name() string
	Label(ctx context.Context, task domain.Task, mode string) (*Outcome, error)
}

// Chain runs strategies in order and stops at the first non-empty outcome.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a chain. Nil strategies are skipped.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	c := &Chain{logger: logging.OrNop(logger)}
	for _, s := range strategies {
		if s != nil {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// Label returns the first strategy's labels. Strategy errors are logged and
// treated as no outcome; exhausting the chain yields no labels.
func (c *Chain) Label(ctx context.Context, task domain.Task, mode string) ([]string, []domain.AppliedRule) {
	for _, s := range c.strategies {
		out, err := s.Label(ctx, task, mode)
		if err != nil {
			c.logger.Warn("labeling stage failed",
				zap.String("stage", s.Name()),
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			continue
		}
		if out == nil || len(out.Labels) == 0 {
			continue
		}
		c.logger.Debug("labeling stage matched",
			zap.String("stage", s.Name()),
			zap.String("task_id", task.ID),
			zap.Strings("labels", out.Labels),
		)
		return out.Labels, out.Provenance
	}
	return nil, nil
}

// Strategies returns the stage names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// RuleStrategy labels from declarative rules.
type RuleStrategy struct {
	Matcher *rules.Matcher
}

func (RuleStrategy) Name() string { return string(domain.SourceRule) }

func (s RuleStrategy) Label(_ context.Context, task domain.Task, _ string) (*Outcome, error) {
	labels, prov := s.Matcher.Apply(task)
	if len(labels) == 0 {
		return nil, nil
	}
	return &Outcome{Labels: labels, Provenance: prov}, nil
}

// EngineStrategy labels with the semantic engine.
type EngineStrategy struct {
	Engine          classifier.Engine
	AvailableLabels []string
	DryRun          bool
}

func (EngineStrategy) Name() string { return string(domain.SourceTaskSense) }

func (s EngineStrategy) Label(ctx context.Context, task domain.Task, mode string) (*Outcome, error) {
	res, err := s.Engine.Label(ctx, classifier.Request{
		Text:            task.Content,
		AvailableLabels: s.AvailableLabels,
		Mode:            mode,
		DryRun:          s.DryRun,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Labels) == 0 {
		return nil, nil
	}
	out := &Outcome{}
	for _, l := range res.Labels {
		out.Labels = append(out.Labels, l)
		out.Provenance = append(out.Provenance, domain.AppliedRule{
			Label:       l,
			Source:      domain.SourceTaskSense,
			Confidence:  res.Confidence,
			Explanation: res.Explanation,
			Priority:    config.DefaultRulePriority,
			Matcher:     res.Source,
		})
	}
	return out, nil
}

// GPTStrategy asks the language model directly for labels.
type GPTStrategy struct {
	Completer   llm.Completer
	Config      config.GPTFallback
	UserProfile string
}

func (GPTStrategy) Name() string { return string(domain.SourceGPT) }

func (s GPTStrategy) Label(ctx context.Context, task domain.Task, _ string) (*Outcome, error) {
	resp, err := s.Completer.Complete(ctx, llm.Request{
		Prompt:      s.prompt(task.Content),
		Model:       s.Config.Model,
		MaxTokens:   s.Config.MaxTokens,
		Temperature: s.Config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("gpt fallback: %w", err)
	}

	labels := ParseLabelLine(resp, maxGPTLabels)
	if len(labels) == 0 {
		return nil, nil
	}
	out := &Outcome{Labels: labels}
	for _, l := range labels {
		out.Provenance = append(out.Provenance, domain.AppliedRule{
			Label:       l,
			Source:      domain.SourceGPT,
			Confidence:  classifier.DefaultConfidence,
			Explanation: "suggested by language model fallback",
			Priority:    config.DefaultRulePriority,
			Matcher:     "gpt",
		})
	}
	return out, nil
}

func (s GPTStrategy) prompt(content string) string {
	var sb strings.Builder
	profile := s.UserProfile
	if s.Config.UserProfile != "" {
		profile = s.Config.UserProfile
	}
	if profile != "" {
		sb.WriteString("User Profile: ")
		sb.WriteString(profile)
		sb.WriteString("\n\n")
	}
	sb.WriteString(s.Config.Prompt)
	sb.WriteString("\n\nTask: ")
	sb.WriteString(content)
	return sb.String()
}

// ParseLabelLine reads comma-separated labels from the first line of resp,
// trimmed and lower-cased, keeping at most limit.
func ParseLabelLine(resp string, limit int) []string {
	first, _, _ := strings.Cut(llm.CleanResponse(resp), "\n")
	var labels []string
	for _, raw := range strings.Split(first, ",") {
		l := strings.ToLower(strings.TrimSpace(raw))
		if l == "" {
			continue
		}
		labels = append(labels, l)
		if len(labels) == limit {
			break
		}
	}
	return labels
}

// Deps holds what Build needs to assemble the standard chain.
type Deps struct {
	Matcher   *rules.Matcher
	Engine    classifier.Engine
	Completer llm.Completer
	Rules     *config.RulesConfig
	Labeling  *config.LabelingConfig
	DryRun    bool
}

// Build assembles rules, then the semantic engine when the fallback is
// enabled, then the raw model call when the GPT fallback is enabled.
func Build(d Deps, logger *zap.Logger) *Chain {
	strategies := []Strategy{RuleStrategy{Matcher: d.Matcher}}
	if d.Labeling != nil && d.Labeling.Enabled && d.Engine != nil {
		strategies = append(strategies, EngineStrategy{
			Engine:          d.Engine,
			AvailableLabels: d.Labeling.AvailableLabels,
			DryRun:          d.DryRun,
		})
	}
	if d.Rules != nil && d.Rules.GPTFallback.Enabled && d.Completer != nil {
		gs := GPTStrategy{Completer: d.Completer, Config: d.Rules.GPTFallback}
		if d.Labeling != nil {
			gs.UserProfile = d.Labeling.UserProfile
		}
		strategies = append(strategies, gs)
	}
	return NewChain(logger, strategies...)
}
