package domain

import "time"

// RunSummary counts what one run did.
type RunSummary struct {
	Processed int     `json:"processed"`
	Labeled   int     `json:"labeled"`
	Enriched  int     `json:"enriched"`
	Moved     int     `json:"moved"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	LLMCost   float64 `json:"llm_cost"`
}

// Run is one journaled invocation.
type Run struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Mode       string     `json:"mode"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    RunSummary `json:"summary"`
}

// Action kinds recorded per task.
const (
	ActionLabel  = "label"
	ActionEnrich = "enrich"
	ActionMove   = "move"
	ActionToday  = "today"
)

// TaskAction is one change made (or planned, in a dry run) to a task.
type TaskAction struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RankingEntry is one row of a stored ranking.
type RankingEntry struct {
	RunID       string        `json:"run_id"`
	Position    int           `json:"position"`
	TaskID      string        `json:"task_id"`
	Content     string        `json:"content"`
	BaseScore   float64       `json:"base_score"`
	FinalScore  float64       `json:"final_score"`
	Source      RankingSource `json:"ranking_source"`
	Explanation string        `json:"explanation"`
}
