package domain

// Components holds the four sub-scores of a composite score.
type Components struct {
	Priority        float64 `json:"priority"`
	DueDate         float64 `json:"due_date"`
	Age             float64 `json:"age"`
	LabelPreference float64 `json:"label_preference"`
}

// Sum adds the components.
func (c Components) Sum() float64 {
	return c.Priority + c.DueDate + c.Age + c.LabelPreference
}

// ScoredTask is a task with its composite score. Components are already
// multiplied by their weights; Raw keeps the unweighted sub-scores.
type ScoredTask struct {
	Task        Task       `json:"task"`
	Score       float64    `json:"score"`
	Explanation string     `json:"explanation"`
	Components  Components `json:"components"`
	Raw         Components `json:"raw_components"`
}

// RankingSource tells how the final score of a task was decided.
type RankingSource string

const (
	RankBaseOnly      RankingSource = "base_only"
	RankGPTEnhanced   RankingSource = "gpt_enhanced"
	RankGPTReranked   RankingSource = "gpt_reranked"
	RankLowConfidence RankingSource = "low_confidence_fallback"
)

// Recommendation values returned by the re-ranker.
const (
	RecommendPrioritize = "prioritize"
	RecommendDefer      = "defer"
	RecommendStandard   = "standard"
)

// EnhancedScoredTask is a ScoredTask after the optional LLM re-rank.
type EnhancedScoredTask struct {
	ScoredTask
	BaseScore         float64       `json:"base_score"`
	BaseExplanation   string        `json:"base_explanation"`
	FinalScore        float64       `json:"final_score"`
	GPTExplanation    string        `json:"gpt_explanation,omitempty"`
	GPTConfidence     float64       `json:"gpt_confidence,omitempty"`
	GPTModel          string        `json:"gpt_model,omitempty"`
	GPTRerankScore    float64       `json:"gpt_rerank_score,omitempty"`
	Source            RankingSource `json:"ranking_source"`
	Reasoning         string        `json:"gpt_reasoning,omitempty"`
	UrgencyIndicators []string      `json:"urgency_indicators,omitempty"`
	ModeAlignment     string        `json:"mode_alignment,omitempty"`
	Recommendation    string        `json:"recommendation,omitempty"`
	Cost              float64       `json:"cost"`
}

// BaseOnly wraps a scored task without any LLM adjustment.
func BaseOnly(st ScoredTask) EnhancedScoredTask {
	return EnhancedScoredTask{
		ScoredTask:      st,
		BaseScore:       st.Score,
		BaseExplanation: st.Explanation,
		FinalScore:      st.Score,
		Source:          RankBaseOnly,
	}
}
