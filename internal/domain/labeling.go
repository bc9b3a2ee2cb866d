package domain

// Source records which stage produced a label.
type Source string

const (
	SourceRule      Source = "rule"
	SourceTaskSense Source = "tasksense"
	SourceGPT       Source = "gpt"
	SourceDomain    Source = "domain"
)

// AppliedRule is the provenance of one label suggestion.
type AppliedRule struct {
	Label           string  `json:"label"`
	Source          Source  `json:"source"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation,omitempty"`
	MoveTo          string  `json:"move_to,omitempty"`
	CreateIfMissing bool    `json:"create_if_missing,omitempty"`
	Priority        int     `json:"priority,omitempty"`
	Matcher         string  `json:"matcher,omitempty"`
}

// LabelingResult is the per-task output of the labeling pipeline.
type LabelingResult struct {
	TaskID            string             `json:"task_id"`
	TaskContent       string             `json:"task_content"`
	LabelsToAdd       []string           `json:"labels_to_add"`
	AppliedRules      []AppliedRule      `json:"applied_rules"`
	Confidence        map[string]float64 `json:"confidence"`
	Explanations      map[string]string  `json:"explanations"`
	Links             []Link             `json:"links,omitempty"`
	DomainLabels      []string           `json:"domain_labels,omitempty"`
	SoftMatched       []string           `json:"soft_matched,omitempty"`
	LowConfidence     []string           `json:"low_confidence,omitempty"`
	FeedbackRequested bool               `json:"feedback_requested,omitempty"`
	FeedbackTriggers  []string           `json:"feedback_triggers,omitempty"`
}

// NewLabelingResult returns an empty result for the task.
func NewLabelingResult(t Task) *LabelingResult {
	return &LabelingResult{
		TaskID:       t.ID,
		TaskContent:  t.Content,
		Confidence:   make(map[string]float64),
		Explanations: make(map[string]string),
	}
}

// HasNewLabels reports whether anything is left to apply.
func (r *LabelingResult) HasNewLabels() bool {
	return len(r.LabelsToAdd) > 0
}

// Sources maps each label to the stage that produced it.
func (r *LabelingResult) Sources() map[string]Source {
	out := make(map[string]Source, len(r.AppliedRules)+len(r.DomainLabels))
	for _, ar := range r.AppliedRules {
		out[ar.Label] = ar.Source
	}
	for _, l := range r.DomainLabels {
		out[l] = SourceDomain
	}
	return out
}
