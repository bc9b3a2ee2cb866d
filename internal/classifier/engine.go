// Package classifier suggests labels for task text, either through a
// language model or a deterministic mock.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/llm"
)

// Version is reported in result metadata.
const Version = "v1.0"

// Result sources.
const (
	SourceLLM           = "TaskSense"
	SourceMockConfig    = "TaskSense_Mock_Config"
	SourceMockDefault   = "TaskSense_Mock_Default"
	SourceMockHeuristic = "TaskSense_Mock_Heuristic"
	SourceDryRun        = "TaskSense_DryRun"
)

// DefaultConfidence is assumed when a model states none.
const DefaultConfidence = 0.8

// Request asks for labels for one text.
type Request struct {
	Text            string
	AvailableLabels []string
	Mode            string
	DryRun          bool
}

// Meta describes how a result was produced.
type Meta struct {
	Version        string `json:"version"`
	ReasoningLevel string `json:"reasoning_level"`
	Model          string `json:"model"`
	Mode           string `json:"mode"`
	PatternMatched string `json:"pattern_matched,omitempty"`
}

// Result is an engine answer.
type Result struct {
	Labels      []string `json:"labels"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	Source      string   `json:"source"`
	Meta        Meta     `json:"engine_meta"`
}

// Engine suggests labels.
type Engine interface {
	Label(ctx context.Context, req Request) (*Result, error)
}

// New returns the mock engine when mock is set or the document enables mock
// mode, otherwise an engine backed by completer. Without a completer there is
// no real engine and llm.ErrNotConfigured is returned.
func New(cfg *config.LabelingConfig, completer llm.Completer, mock bool, logger *zap.Logger) (Engine, error) {
	if cfg == nil {
		cfg = config.DefaultLabelingConfig()
	}
	if mock || cfg.MockMode.Enabled {
		return NewMock(cfg), nil
	}
	if completer == nil {
		return nil, fmt.Errorf("labeling engine: %w", llm.ErrNotConfigured)
	}
	return NewLLMEngine(cfg, completer, logger), nil
}

func dryRun(cfg *config.LabelingConfig, mode string) *Result {
	return &Result{
		Labels:      []string{"personal"},
		Explanation: "DRY RUN: Would analyze task and return appropriate labels",
		Confidence:  1.0,
		Source:      SourceDryRun,
		Meta: Meta{
			Version:        Version,
			ReasoningLevel: cfg.ReasoningLevel,
			Model:          "dry_run",
			Mode:           mode,
		},
	}
}

func resolve(cfg *config.LabelingConfig, req Request) Request {
	if len(req.AvailableLabels) == 0 {
		req.AvailableLabels = cfg.AvailableLabels
	}
	if req.Mode == "" {
		req.Mode = cfg.DefaultMode
	}
	return req
}
