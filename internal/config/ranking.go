package config

import "strconv"

// Weights are the composite score weights. They are expected to sum to about
// one; nothing enforces it.
type Weights struct {
	Priority        float64 `json:"priority" yaml:"priority" validate:"gte=0"`
	DueDate         float64 `json:"due_date" yaml:"due_date" validate:"gte=0"`
	Age             float64 `json:"age" yaml:"age" validate:"gte=0"`
	LabelPreference float64 `json:"label_preference" yaml:"label_preference" validate:"gte=0"`
}

// FallbackScores are used when a sub-score has no signal.
type FallbackScores struct {
	NoPriority        float64 `json:"no_priority" yaml:"no_priority" validate:"gte=0,lte=1"`
	NoDueDate         float64 `json:"no_due_date" yaml:"no_due_date" validate:"gte=0,lte=1"`
	NoPreferredLabels float64 `json:"no_preferred_labels" yaml:"no_preferred_labels" validate:"gte=0,lte=1"`
}

// DueDateScores maps due buckets to scores.
type DueDateScores struct {
	Overdue  float64 `json:"overdue" yaml:"overdue" validate:"gte=0,lte=1"`
	Today    float64 `json:"today" yaml:"today" validate:"gte=0,lte=1"`
	Tomorrow float64 `json:"tomorrow" yaml:"tomorrow" validate:"gte=0,lte=1"`
	ThisWeek float64 `json:"this_week" yaml:"this_week" validate:"gte=0,lte=1"`
	Future   float64 `json:"future" yaml:"future" validate:"gte=0,lte=1"`
}

// ModeSettings tunes ranking for one mode.
type ModeSettings struct {
	PreferredLabels []string `json:"preferred_labels" yaml:"preferred_labels"`
	ExcludedLabels  []string `json:"excluded_labels" yaml:"excluded_labels"`
	Weights         *Weights `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// RankingLabels names the labels the today workflow manages.
type RankingLabels struct {
	TodayMarker    string   `json:"today_marker" yaml:"today_marker"`
	FeedbackLabels []string `json:"feedback_labels" yaml:"feedback_labels"`
}

// RankingSections configures the today section.
type RankingSections struct {
	TodaySection    string `json:"today_section" yaml:"today_section"`
	CreateIfMissing bool   `json:"create_if_missing" yaml:"create_if_missing"`
}

// GPTReranking configures the language-model re-ranking layer.
type GPTReranking struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	Model               string  `json:"model" yaml:"model"`
	CandidateLimit      int     `json:"candidate_limit" yaml:"candidate_limit" validate:"gte=0"`
	MaxTokens           int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Temperature         float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds      int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	CostLimitPerRunUSD  float64 `json:"cost_limit_per_run_usd" yaml:"cost_limit_per_run_usd" validate:"gte=0"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=1"`
}

// RankingConfig is the ranking document.
type RankingConfig struct {
	DefaultLimit    int                     `json:"default_limit" yaml:"default_limit" validate:"gte=0"`
	ScoringWeights  Weights                 `json:"scoring_weights" yaml:"scoring_weights"`
	FallbackWeights FallbackScores          `json:"fallback_weights" yaml:"fallback_weights"`
	PriorityScores  map[string]float64      `json:"priority_scores" yaml:"priority_scores" validate:"dive,gte=0,lte=1"`
	DueDateScores   DueDateScores           `json:"due_date_scores" yaml:"due_date_scores"`
	ModeSettings    map[string]ModeSettings `json:"mode_settings" yaml:"mode_settings" validate:"dive"`
	Labels          RankingLabels           `json:"labels" yaml:"labels"`
	Sections        RankingSections         `json:"sections" yaml:"sections"`
	GPTReranking    GPTReranking            `json:"gpt_reranking" yaml:"gpt_reranking"`
}

// PriorityScore looks up the score for a core priority value.
func (c *RankingConfig) PriorityScore(priority int) (float64, bool) {
	v, ok := c.PriorityScores[strconv.Itoa(priority)]
	return v, ok
}

// WeightsFor returns the mode weights, or the global weights when the mode
// has none.
func (c *RankingConfig) WeightsFor(mode string) Weights {
	if ms, ok := c.ModeSettings[mode]; ok && ms.Weights != nil {
		return *ms.Weights
	}
	return c.ScoringWeights
}

// DefaultRankingConfig returns the built-in ranking configuration.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		DefaultLimit: 3,
		ScoringWeights: Weights{
			Priority:        0.4,
			DueDate:         0.3,
			Age:             0.1,
			LabelPreference: 0.2,
		},
		FallbackWeights: FallbackScores{
			NoPriority:        0.3,
			NoDueDate:         0.2,
			NoPreferredLabels: 0.1,
		},
		PriorityScores: map[string]float64{
			"1": 1.0, "2": 0.8, "3": 0.6, "4": 0.4,
		},
		DueDateScores: DueDateScores{
			Overdue:  1.0,
			Today:    0.9,
			Tomorrow: 0.7,
			ThisWeek: 0.5,
			Future:   0.2,
		},
		ModeSettings: map[string]ModeSettings{
			"work": {
				PreferredLabels: []string{"work", "meeting", "urgent"},
				ExcludedLabels:  []string{"personal"},
			},
			"personal": {
				PreferredLabels: []string{"personal", "health", "family"},
				ExcludedLabels:  []string{"work"},
			},
		},
		Labels: RankingLabels{
			TodayMarker:    "today",
			FeedbackLabels: []string{"today-done", "today-skip", "rank-ignore"},
		},
		Sections: RankingSections{
			TodaySection:    "Today",
			CreateIfMissing: true,
		},
		GPTReranking: GPTReranking{
			Model:               "gpt-3.5-turbo",
			CandidateLimit:      10,
			MaxTokens:           1000,
			Temperature:         0.3,
			TimeoutSeconds:      30,
			CostLimitPerRunUSD:  0.10,
			ConfidenceThreshold: 0.7,
		},
	}
}
