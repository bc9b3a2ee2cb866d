package labeling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/triage/internal/classifier"
	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/llm"
	"github.com/pbaille/triage/internal/rules"
)

type countingEngine struct {
	calls  int
	result *classifier.Result
	err    error
}

func (e *countingEngine) Label(_ context.Context, _ classifier.Request) (*classifier.Result, error) {
	e.calls++
	return e.result, e.err
}

func countingCompleter(calls *int, answer string, err error) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		*calls++
		return answer, err
	})
}

func testRules() *config.RulesConfig {
	cfg := config.DefaultRulesConfig()
	cfg.Rules = append(cfg.Rules,
		config.Rule{Contains: config.Keywords{"dentist"}, Label: "health"},
		config.Rule{Prefix: "TODO:", Label: "todo"},
	)
	cfg.GPTFallback.Enabled = true
	return cfg
}

func newPipeline(t *testing.T, engine classifier.Engine, completer llm.Completer) *Pipeline {
	t.Helper()
	rc := testRules()
	lc := config.DefaultLabelingConfig()
	chain := Build(Deps{
		Matcher:   rules.NewMatcher(rc.Rules, nil),
		Engine:    engine,
		Completer: completer,
		Rules:     rc,
		Labeling:  lc,
	}, nil)
	return NewPipeline(chain, Options{
		ConfidenceThreshold: lc.ConfidenceThreshold,
		SoftMatching:        lc.SoftMatching,
		AvailableLabels:     lc.AvailableLabels,
	}, nil)
}

func TestChain_RulesShortCircuit(t *testing.T) {
	engine := &countingEngine{result: &classifier.Result{Labels: []string{"work"}, Confidence: 0.9}}
	gptCalls := 0
	p := newPipeline(t, engine, countingCompleter(&gptCalls, "work", nil))

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "Book dentist"}, "personal")

	assert.Equal(t, []string{"health"}, res.LabelsToAdd)
	assert.Zero(t, engine.calls, "engine must not run after a rule match")
	assert.Zero(t, gptCalls)
	require.Len(t, res.AppliedRules, 1)
	assert.Equal(t, domain.SourceRule, res.AppliedRules[0].Source)
	assert.Equal(t, 1.0, res.Confidence["health"])
}

func TestChain_EngineThenGPT(t *testing.T) {
	engine := &countingEngine{result: &classifier.Result{Labels: []string{"work"}, Confidence: 0.9, Explanation: "job", Source: classifier.SourceLLM}}
	gptCalls := 0
	p := newPipeline(t, engine, countingCompleter(&gptCalls, "admin", nil))

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "write report"}, "work")

	assert.Equal(t, []string{"work"}, res.LabelsToAdd)
	assert.Equal(t, 1, engine.calls)
	assert.Zero(t, gptCalls)
	assert.Equal(t, "job", res.Explanations["work"])
	assert.Equal(t, classifier.SourceLLM, res.AppliedRules[0].Matcher)
}

func TestChain_ErrorFallsThrough(t *testing.T) {
	engine := &countingEngine{err: errors.New("model down")}
	gptCalls := 0
	p := newPipeline(t, engine, countingCompleter(&gptCalls, "Admin, Home, Urgent\nextra", nil))

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "sort papers"}, "personal")

	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, 1, gptCalls)
	assert.Equal(t, []string{"admin", "home"}, res.LabelsToAdd)
	for _, ar := range res.AppliedRules {
		assert.Equal(t, domain.SourceGPT, ar.Source)
		assert.Equal(t, classifier.DefaultConfidence, ar.Confidence)
	}
}

func TestChain_Exhausted(t *testing.T) {
	engine := &countingEngine{result: &classifier.Result{}}
	gptCalls := 0
	p := newPipeline(t, engine, countingCompleter(&gptCalls, "", errors.New("quota")))

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "ponder"}, "personal")

	assert.Empty(t, res.LabelsToAdd)
	assert.True(t, res.FeedbackRequested)
	assert.Contains(t, res.FeedbackTriggers, "No labels suggested")
}

func TestPipeline_MockEndToEnd(t *testing.T) {
	engine := classifier.NewMock(config.DefaultLabelingConfig())
	gptCalls := 0
	p := newPipeline(t, engine, countingCompleter(&gptCalls, "", nil))

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "URGENT: fix prod bug"}, "work")

	assert.Equal(t, []string{"urgent"}, res.LabelsToAdd)
	assert.Zero(t, gptCalls)
}

func TestPipeline_DomainLabels(t *testing.T) {
	p := newPipeline(t, &countingEngine{}, nil)

	res := p.Run(context.Background(), domain.Task{
		ID:      "1",
		Content: "[Talk](https://www.youtube.com/watch?v=abc) and https://github.com/golang/go",
	}, "personal")

	assert.Equal(t, []string{"link", "youtube", "github"}, res.LabelsToAdd)
	assert.Equal(t, []string{"youtube", "github"}, res.DomainLabels)
	assert.Equal(t, 0.95, res.Confidence["youtube"])
	assert.Equal(t, "Detected from URL: https://www.youtube.com/watch?v=abc", res.Explanations["youtube"])
	assert.Equal(t, 2, p.Stats().DomainsDetected)
}

func TestPipeline_Idempotent(t *testing.T) {
	p := newPipeline(t, &countingEngine{}, nil)
	task := domain.Task{ID: "1", Content: "Book dentist via https://github.com/x"}

	first := p.Run(context.Background(), task, "personal")
	require.NotEmpty(t, first.LabelsToAdd)

	task.Labels = domain.MergeLabels(task.Labels, first.LabelsToAdd)
	second := p.Run(context.Background(), task, "personal")
	assert.Empty(t, second.LabelsToAdd)
}

func TestPipeline_ConfidenceThreshold(t *testing.T) {
	engine := &countingEngine{result: &classifier.Result{Labels: []string{"work"}, Confidence: 0.6}}
	p := newPipeline(t, engine, nil)
	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "x"}, "work")
	assert.Equal(t, []string{"work"}, res.LabelsToAdd, "threshold is inclusive")

	engine.result.Confidence = 0.59
	res = p.Run(context.Background(), domain.Task{ID: "1", Content: "x"}, "work")
	assert.Empty(t, res.LabelsToAdd)
	assert.Equal(t, []string{"work"}, res.LowConfidence)
	assert.True(t, res.FeedbackRequested)
	assert.Equal(t, 1, p.Stats().ConfidenceFiltered)
}

func TestPipeline_SoftMatching(t *testing.T) {
	engine := &countingEngine{result: &classifier.Result{Labels: []string{"gardening", "home"}, Confidence: 0.9}}
	rc := testRules()
	lc := config.DefaultLabelingConfig()
	chain := Build(Deps{Matcher: rules.NewMatcher(rc.Rules, nil), Engine: engine, Rules: rc, Labeling: lc}, nil)
	p := NewPipeline(chain, Options{
		ConfidenceThreshold: 0.6,
		SoftMatching:        true,
		AvailableLabels:     lc.AvailableLabels,
	}, nil)

	res := p.Run(context.Background(), domain.Task{ID: "1", Content: "weed beds"}, "personal")
	assert.Equal(t, []string{"home"}, res.LabelsToAdd)
	assert.Equal(t, []string{"gardening"}, res.SoftMatched)
	assert.True(t, res.FeedbackRequested)
}

func TestBuild_Stages(t *testing.T) {
	rc := testRules()
	lc := config.DefaultLabelingConfig()
	m := rules.NewMatcher(rc.Rules, nil)
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) { return "", nil })

	chain := Build(Deps{Matcher: m, Engine: &countingEngine{}, Completer: completer, Rules: rc, Labeling: lc}, nil)
	assert.Equal(t, []string{"rule", "tasksense", "gpt"}, chain.Strategies())

	lc.Enabled = false
	rc.GPTFallback.Enabled = false
	chain = Build(Deps{Matcher: m, Engine: &countingEngine{}, Completer: completer, Rules: rc, Labeling: lc}, nil)
	assert.Equal(t, []string{"rule"}, chain.Strategies())
}

func TestGPTStrategy_Prompt(t *testing.T) {
	var prompt string
	s := GPTStrategy{
		Completer: llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
			prompt = req.Prompt
			assert.Equal(t, 50, req.MaxTokens)
			return "```\nwork\n```", nil
		}),
		Config:      config.DefaultRulesConfig().GPTFallback,
		UserProfile: "I teach.",
	}
	out, err := s.Label(context.Background(), domain.Task{Content: "grade essays"}, "work")
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, out.Labels)
	assert.Contains(t, prompt, "User Profile: I teach.")
	assert.Contains(t, prompt, "Task: grade essays")
}

func TestParseLabelLine(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseLabelLine(" A , ,B,c\nrest", 2))
	assert.Empty(t, ParseLabelLine("", 2))
}
