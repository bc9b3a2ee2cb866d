package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/llm"
	"github.com/pbaille/triage/internal/logging"
)

const maxLabels = 2

var confidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`confidence:\s*([0-9]\.[0-9]+)`),
	regexp.MustCompile(`([0-9]\.[0-9]+)\s*confidence`),
	regexp.MustCompile(`confidence\s*([0-9]\.[0-9]+)`),
}

// LLMEngine labels through a language model.
type LLMEngine struct {
	cfg       *config.LabelingConfig
	completer llm.Completer
	logger    *zap.Logger
}

// NewLLMEngine creates an engine calling completer.
func NewLLMEngine(cfg *config.LabelingConfig, completer llm.Completer, logger *zap.Logger) *LLMEngine {
	return &LLMEngine{cfg: cfg, completer: completer, logger: logging.OrNop(logger)}
}

// Label builds the mode prompt, calls the model and parses its answer.
func (e *LLMEngine) Label(ctx context.Context, req Request) (*Result, error) {
	req = resolve(e.cfg, req)
	if req.DryRun {
		return dryRun(e.cfg, req.Mode), nil
	}

	prompt := buildPrompt(
		ModePrompt(req.Mode, e.cfg.ReasoningLevel),
		e.cfg.UserProfile,
		req.Text,
		req.AvailableLabels,
		e.cfg.ReasoningLevel,
	)

	maxTokens := e.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 150
	}
	resp, err := e.completer.Complete(ctx, llm.Request{
		Prompt:      prompt,
		Model:       e.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("label completion: %w", err)
	}

	res := parseResponse(resp, req.AvailableLabels, e.cfg.ReasoningLevel)
	res.Source = SourceLLM
	res.Meta = Meta{
		Version:        Version,
		ReasoningLevel: e.cfg.ReasoningLevel,
		Model:          e.cfg.Model,
		Mode:           req.Mode,
	}
	e.logger.Debug("engine labels",
		zap.Strings("labels", res.Labels),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

// parseResponse reads labels from the first line, keeping only known labels
// (at most two), and the explanation from the rest. Deep reasoning answers
// may state a confidence.
func parseResponse(resp string, available []string, reasoningLevel string) *Result {
	lines := strings.Split(strings.TrimSpace(resp), "\n")

	known := make(map[string]bool, len(available))
	for _, l := range available {
		known[strings.ToLower(l)] = true
	}

	var labels []string
	for _, raw := range strings.Split(lines[0], ",") {
		l := strings.ToLower(strings.TrimSpace(raw))
		if known[l] && len(labels) < maxLabels {
			labels = append(labels, l)
		}
	}

	res := &Result{Labels: labels, Confidence: DefaultConfidence}
	if len(lines) > 1 {
		res.Explanation = strings.TrimSpace(strings.Join(lines[1:], " "))
		if reasoningLevel == "deep" {
			if c, ok := extractConfidence(res.Explanation); ok {
				res.Confidence = c
			}
		}
	}
	return res
}

func extractConfidence(text string) (float64, bool) {
	lower := strings.ToLower(text)
	for _, re := range confidencePatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
