package config

// MockResponse is a canned engine answer.
type MockResponse struct {
	Labels      []string `json:"labels" yaml:"labels"`
	Explanation string   `json:"explanation" yaml:"explanation"`
	Confidence  float64  `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// MockResponses holds pattern and default canned answers.
type MockResponses struct {
	// Patterns maps a lowercase substring to its answer.
	Patterns map[string]MockResponse `json:"patterns,omitempty" yaml:"patterns,omitempty" validate:"dive"`
	Default  *MockResponse           `json:"default,omitempty" yaml:"default,omitempty"`
}

// MockModeConfig configures the deterministic labeling engine.
type MockModeConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Responses MockResponses `json:"responses" yaml:"responses"`
}

// TimeBasedModes configures automatic mode detection. Days use
// time.Weekday numbering (0 = Sunday); hour ranges are inclusive.
type TimeBasedModes struct {
	Enabled          bool  `json:"enabled" yaml:"enabled"`
	WeekdayWorkHours []int `json:"weekday_work_hours" yaml:"weekday_work_hours" validate:"omitempty,len=2,dive,gte=0,lte=23"`
	EveningHours     []int `json:"evening_hours" yaml:"evening_hours" validate:"omitempty,len=2,dive,gte=0,lte=23"`
	WeekendDays      []int `json:"weekend_days" yaml:"weekend_days" validate:"dive,gte=0,lte=6"`
}

// LabelingConfig is the semantic labeling (TaskSense) document.
type LabelingConfig struct {
	// Enabled turns the semantic engine stage of the fallback chain on.
	Enabled             bool           `json:"fallback_enabled" yaml:"fallback_enabled"`
	UserProfile         string         `json:"user_profile" yaml:"user_profile"`
	AvailableLabels     []string       `json:"available_labels" yaml:"available_labels"`
	DefaultMode         string         `json:"default_mode" yaml:"default_mode" validate:"omitempty,oneof=work personal weekend evening auto"`
	ReasoningLevel      string         `json:"reasoning_level" yaml:"reasoning_level" validate:"omitempty,oneof=minimal light deep"`
	PromptVersion       string         `json:"prompt_version" yaml:"prompt_version"`
	Model               string         `json:"model" yaml:"model"`
	MaxTokens           int            `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Temperature         float64        `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	ConfidenceThreshold float64        `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	SoftMatching        bool           `json:"soft_matching" yaml:"soft_matching"`
	MockMode            MockModeConfig `json:"mock_mode" yaml:"mock_mode"`
	TimeBasedModes      TimeBasedModes `json:"time_based_modes" yaml:"time_based_modes"`
}

// DefaultLabelingConfig returns the built-in labeling configuration.
func DefaultLabelingConfig() *LabelingConfig {
	return &LabelingConfig{
		Enabled:             true,
		UserProfile:         "I'm a productivity-focused user who values efficient task management.",
		AvailableLabels:     []string{"work", "personal", "urgent", "followup", "admin", "home"},
		DefaultMode:         "personal",
		ReasoningLevel:      "light",
		PromptVersion:       "v1.0",
		Model:               "gpt-3.5-turbo",
		MaxTokens:           100,
		Temperature:         0.3,
		ConfidenceThreshold: 0.6,
		TimeBasedModes: TimeBasedModes{
			Enabled:          true,
			WeekdayWorkHours: []int{9, 17},
			EveningHours:     []int{18, 22},
			WeekendDays:      []int{0, 6},
		},
	}
}
