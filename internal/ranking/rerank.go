package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/llm"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/mode"
)

const (
	rerankMoveThreshold  = 0.05
	maxUrgencyIndicators = 10
	fallbackConfidence   = 0.5
	mockModel            = "mock"
)

var (
	confidenceLine  = regexp.MustCompile(`CONFIDENCE:\s*([0-9]*\.?[0-9]+)`)
	rerankScoreLine = regexp.MustCompile(`RERANK_SCORE:\s*([0-9]*\.?[0-9]+)`)
)

// CostFunc estimates the USD cost of analysing one task.
type CostFunc func(content, model string, maxTokens int) float64

// RerankOptions configures a Reranker.
type RerankOptions struct {
	Config      config.GPTReranking
	UserProfile string
	// Mock answers deterministically without calling the model.
	Mock bool
	// Estimate defaults to llm.EstimateCost.
	Estimate CostFunc
}

// Usage reports what one re-rank spent.
type Usage struct {
	Calls         int     `json:"calls"`
	EstimatedCost float64 `json:"estimated_cost"`
	BudgetHit     bool    `json:"budget_hit"`
}

// Reranker adjusts the best base-ranked tasks with a model analysis.
type Reranker struct {
	scorer    *Scorer
	completer llm.Completer
	opts      RerankOptions
	logger    *zap.Logger
}

// NewReranker creates a re-ranker. A nil completer leaves every task at its
// base score unless Mock is set.
func NewReranker(scorer *Scorer, completer llm.Completer, opts RerankOptions, logger *zap.Logger) *Reranker {
	if opts.Estimate == nil {
		opts.Estimate = llm.EstimateCost
	}
	return &Reranker{scorer: scorer, completer: completer, opts: opts, logger: logging.OrNop(logger)}
}

// Enabled reports whether the re-rank layer is switched on.
func (r *Reranker) Enabled() bool { return r.opts.Config.Enabled }

// RerankWithExplanations ranks tasks and lets the model adjust the top
// candidates. Candidates beyond the budget, or whose analysis fails, keep
// their base score. Low-confidence analyses are recorded but not applied.
func (r *Reranker) RerankWithExplanations(ctx context.Context, tasks []domain.Task, m string, limit int) ([]domain.EnhancedScoredTask, Usage) {
	var usage Usage
	m = r.scorer.ResolveMode(m)
	if limit <= 0 {
		limit = r.scorer.Config().DefaultLimit
	}
	cfg := r.opts.Config

	if !cfg.Enabled {
		base := r.scorer.Rank(tasks, m, limit)
		out := make([]domain.EnhancedScoredTask, len(base))
		for i, st := range base {
			out[i] = domain.BaseOnly(st)
		}
		return out, usage
	}

	base := r.scorer.Rank(tasks, m, max(2*limit, cfg.CandidateLimit))
	out := make([]domain.EnhancedScoredTask, 0, len(base))
	for i, st := range base {
		if i >= cfg.CandidateLimit || usage.BudgetHit {
			out = append(out, domain.BaseOnly(st))
			continue
		}

		var est float64
		if !r.opts.Mock {
			est = r.opts.Estimate(st.Task.Content, cfg.Model, cfg.MaxTokens)
		}
		if est > 0 && usage.EstimatedCost+est > cfg.CostLimitPerRunUSD {
			r.logger.Warn("GPT_RANK_COST_LIMIT: keeping base scores for remaining candidates",
				zap.Float64("spent", usage.EstimatedCost),
				zap.Float64("estimate", est),
				zap.Float64("limit", cfg.CostLimitPerRunUSD),
			)
			usage.BudgetHit = true
			out = append(out, domain.BaseOnly(st))
			continue
		}
		usage.EstimatedCost += est

		a, err := r.analyze(ctx, st, m)
		if err != nil {
			r.logger.Warn("GPT_RANK_FAILED",
				zap.String("task_id", st.Task.ID),
				zap.Error(err),
			)
			out = append(out, domain.BaseOnly(st))
			continue
		}
		if !r.opts.Mock {
			usage.Calls++
			a.cost = est
		}
		out = append(out, r.apply(st, a))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, usage
}

// analysis is one parsed model answer.
type analysis struct {
	Explanation       string   `json:"explanation"`
	Confidence        *float64 `json:"confidence"`
	RerankScore       *float64 `json:"rerank_score"`
	Reasoning         string   `json:"reasoning"`
	UrgencyIndicators []string `json:"urgency_indicators"`
	ModeAlignment     string   `json:"mode_alignment"`
	Recommendation    string   `json:"recommendation"`

	model string
	cost  float64
}

func (r *Reranker) analyze(ctx context.Context, st domain.ScoredTask, m string) (*analysis, error) {
	if r.opts.Mock {
		return mockAnalysis(st, m), nil
	}
	if r.completer == nil {
		return nil, llm.ErrNotConfigured
	}

	cfg := r.opts.Config
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	prompt, err := buildRerankPrompt(st, m, r.opts.UserProfile)
	if err != nil {
		return nil, err
	}
	resp, err := r.completer.Complete(ctx, llm.Request{
		Prompt:      prompt,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank completion: %w", err)
	}
	a, err := parseAnalysis(resp)
	if err != nil {
		return nil, err
	}
	a.model = cfg.Model
	return a, nil
}

func (r *Reranker) apply(st domain.ScoredTask, a *analysis) domain.EnhancedScoredTask {
	et := domain.BaseOnly(st)
	conf := 0.0
	if a.Confidence != nil {
		conf = *a.Confidence
	}
	et.GPTExplanation = a.Explanation
	et.GPTConfidence = conf
	et.GPTModel = a.model
	et.Reasoning = a.Reasoning
	et.UrgencyIndicators = a.UrgencyIndicators
	et.ModeAlignment = a.ModeAlignment
	et.Recommendation = a.Recommendation
	et.Cost = a.cost

	if conf < r.opts.Config.ConfidenceThreshold {
		et.Source = domain.RankLowConfidence
		return et
	}
	if a.RerankScore != nil {
		et.GPTRerankScore = *a.RerankScore
		et.FinalScore = *a.RerankScore
	}
	if math.Abs(et.FinalScore-et.BaseScore) > rerankMoveThreshold {
		et.Source = domain.RankGPTReranked
	} else {
		et.Source = domain.RankGPTEnhanced
	}
	r.logger.Debug("GPT_RANK_APPLIED",
		zap.String("task_id", st.Task.ID),
		zap.Float64("base", et.BaseScore),
		zap.Float64("final", et.FinalScore),
		zap.String("source", string(et.Source)),
	)
	return et
}

type promptTask struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Priority int      `json:"priority"`
	Due      string   `json:"due"`
	Labels   []string `json:"labels"`
}

type promptInput struct {
	Task            promptTask `json:"task"`
	Mode            string     `json:"mode"`
	UserProfile     string     `json:"user_profile,omitempty"`
	BaseScore       float64    `json:"base_score"`
	BaseExplanation string     `json:"base_explanation"`
}

func buildRerankPrompt(st domain.ScoredTask, m, profile string) (string, error) {
	labels := st.Task.Labels
	if labels == nil {
		labels = []string{}
	}
	input, err := json.MarshalIndent(promptInput{
		Task: promptTask{
			ID:       st.Task.ID,
			Content:  st.Task.Content,
			Priority: st.Task.EffectivePriority(),
			Due:      st.Task.DueString(),
			Labels:   labels,
		},
		Mode:            m,
		UserProfile:     profile,
		BaseScore:       st.Score,
		BaseExplanation: st.Explanation,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rerank input: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You are a productivity assistant deciding which tasks deserve attention today.\n\n")
	sb.WriteString("INPUT DATA:\n")
	sb.Write(input)
	sb.WriteString("\n\nINSTRUCTIONS:\n")
	sb.WriteString("1. Judge how urgent and important the task is for the user in the given mode.\n")
	sb.WriteString("2. Look for urgency indicators in the wording and due date.\n")
	sb.WriteString("3. Propose a rerank_score between 0.0 and 1.0; stay close to the base score unless there is a clear reason.\n")
	sb.WriteString("4. State your confidence between 0.0 and 1.0.\n\n")
	sb.WriteString("REQUIRED JSON RESPONSE FORMAT:\n")
	sb.WriteString(`{
  "explanation": "one sentence for the user",
  "confidence": 0.0,
  "rerank_score": 0.0,
  "reasoning": "short analysis",
  "urgency_indicators": ["..."],
  "mode_alignment": "high|medium|low",
  "recommendation": "prioritize|defer|standard"
}`)
	sb.WriteString("\n\nRespond with JSON only.")
	return sb.String(), nil
}

// parseAnalysis reads the outermost JSON object of resp, falling back to
// EXPLANATION:/CONFIDENCE:/RERANK_SCORE: lines.
func parseAnalysis(resp string) (*analysis, error) {
	resp = llm.CleanResponse(resp)
	a, ok := parseJSONAnalysis(resp)
	if !ok {
		a, ok = parseLineAnalysis(resp)
	}
	if !ok {
		return nil, fmt.Errorf("%w: unparseable rerank answer", llm.ErrNoCompletion)
	}
	a.normalize()
	return a, nil
}

func parseJSONAnalysis(resp string) (*analysis, bool) {
	start, end := strings.Index(resp, "{"), strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var a analysis
	if err := json.Unmarshal([]byte(resp[start:end+1]), &a); err != nil {
		return nil, false
	}
	return &a, true
}

func parseLineAnalysis(resp string) (*analysis, bool) {
	a := &analysis{}
	found := false
	if i := strings.Index(resp, "EXPLANATION:"); i >= 0 {
		rest := resp[i+len("EXPLANATION:"):]
		for _, stop := range []string{"CONFIDENCE:", "RERANK_SCORE:"} {
			if j := strings.Index(rest, stop); j >= 0 {
				rest = rest[:j]
			}
		}
		a.Explanation = strings.TrimSpace(rest)
		found = a.Explanation != ""
	}
	if v, ok := matchFloat(confidenceLine, resp); ok {
		a.Confidence = &v
		found = true
	}
	if v, ok := matchFloat(rerankScoreLine, resp); ok {
		a.RerankScore = &v
	}
	if found && a.Confidence == nil {
		c := fallbackConfidence
		a.Confidence = &c
	}
	return a, found
}

func matchFloat(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

func (a *analysis) normalize() {
	if a.Confidence != nil {
		c := clamp(*a.Confidence)
		a.Confidence = &c
	}
	if a.RerankScore != nil && (*a.RerankScore < 0 || *a.RerankScore > 1) {
		a.RerankScore = nil
	}
	if len(a.UrgencyIndicators) > maxUrgencyIndicators {
		a.UrgencyIndicators = a.UrgencyIndicators[:maxUrgencyIndicators]
	}
	switch a.Recommendation {
	case domain.RecommendPrioritize, domain.RecommendDefer, domain.RecommendStandard:
	default:
		a.Recommendation = domain.RecommendStandard
	}
}

func mockAnalysis(st domain.ScoredTask, m string) *analysis {
	content := strings.ToLower(st.Task.Content)
	base := st.Score
	a := &analysis{model: mockModel, Recommendation: domain.RecommendStandard, ModeAlignment: "medium"}

	var conf, score float64
	switch {
	case strings.Contains(content, "urgent") || strings.Contains(content, "critical"):
		conf, score = 0.9, math.Min(base+0.1, 1)
		a.Explanation = "Urgent wording suggests this should be handled first"
		a.Recommendation = domain.RecommendPrioritize
		a.UrgencyIndicators = []string{"urgent", "critical"}
		a.ModeAlignment = "high"
	case strings.Contains(content, "meeting"):
		conf, score = 0.8, math.Min(base+0.05, 1)
		a.Explanation = "Meetings are time-bound and need preparation"
		a.Recommendation = domain.RecommendPrioritize
	case m == mode.Work && containsAnyWord(content, "work", "project", "deadline"):
		conf, score = 0.7, math.Min(base+0.03, 1)
		a.Explanation = "Work task aligned with the current mode"
		a.ModeAlignment = "high"
	default:
		conf, score = 0.6, base
		a.Explanation = "No strong signal beyond the base score"
	}
	a.Reasoning = "mock analysis"
	a.Confidence = &conf
	a.RerankScore = &score
	return a
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
