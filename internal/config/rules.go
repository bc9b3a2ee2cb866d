package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRulePriority is the routing priority of a rule that sets none.
const DefaultRulePriority = 999

// MatcherKind names how a rule inspects task text.
type MatcherKind string

const (
	MatchURL      MatcherKind = "url"
	MatchContains MatcherKind = "contains"
	MatchPrefix   MatcherKind = "prefix"
	MatchRegex    MatcherKind = "regex"
)

// Keywords is a keyword list that also accepts a single string.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*k = nil
		if one != "" {
			*k = Keywords{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("keywords: want string or list: %w", err)
	}
	*k = many
	return nil
}

func (k *Keywords) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*k = nil
		if value.Value != "" {
			*k = Keywords{value.Value}
		}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("keywords: want string or list: %w", err)
	}
	*k = many
	return nil
}

// Rule is a declarative match rule.
type Rule struct {
	Matcher         string   `json:"matcher,omitempty" yaml:"matcher,omitempty" validate:"omitempty,oneof=url contains prefix regex"`
	Contains        Keywords `json:"contains,omitempty" yaml:"contains,omitempty"`
	Prefix          string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Regex           string   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Label           string   `json:"label" yaml:"label" validate:"required"`
	MoveTo          string   `json:"move_to,omitempty" yaml:"move_to,omitempty"`
	Priority        int      `json:"priority,omitempty" yaml:"priority,omitempty" validate:"gte=0"`
	CreateIfMissing bool     `json:"create_if_missing,omitempty" yaml:"create_if_missing,omitempty"`
}

// Kind returns the matcher kind, inferring it from the populated field when
// not set explicitly. An empty kind never matches.
func (r Rule) Kind() MatcherKind {
	if r.Matcher != "" {
		return MatcherKind(strings.ToLower(r.Matcher))
	}
	switch {
	case r.Regex != "":
		return MatchRegex
	case r.Prefix != "":
		return MatchPrefix
	case len(r.Contains) > 0:
		return MatchContains
	}
	return ""
}

// RoutePriority returns the section routing priority; lower wins. Zero means
// unset.
func (r Rule) RoutePriority() int {
	if r.Priority <= 0 {
		return DefaultRulePriority
	}
	return r.Priority
}

// GPTFallback configures the raw language-model labeling stage.
type GPTFallback struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Prompt      string  `json:"prompt" yaml:"prompt"`
	UserProfile string  `json:"user_profile" yaml:"user_profile"`
}

// RulesConfig is the rules document.
type RulesConfig struct {
	Rules       []Rule      `json:"rules" yaml:"rules" validate:"dive"`
	GPTFallback GPTFallback `json:"gpt_fallback" yaml:"gpt_fallback"`
}

// DefaultRulesConfig returns the built-in rules: a single URL rule.
func DefaultRulesConfig() *RulesConfig {
	return &RulesConfig{
		Rules: []Rule{
			{Matcher: string(MatchURL), Label: "link"},
		},
		GPTFallback: GPTFallback{
			Model:       "gpt-3.5-turbo",
			MaxTokens:   50,
			Temperature: 0.3,
			Prompt:      "Suggest one or two short lowercase labels for this task. Reply with the labels only, comma separated.",
		},
	}
}
