package domain

import "strings"

// DefaultPriority is the priority of a task that carries none (lowest urgency).
const DefaultPriority = 4

// Task is a to-do item as seen by the triage core. Priority uses 1 = highest
// urgency .. 4 = lowest.
type Task struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Due         *Due     `json:"due,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	SectionID   *string  `json:"section_id,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Completed   bool     `json:"completed,omitempty"`
}

// Due carries the due date of a task, either date-only or a full timestamp.
type Due struct {
	Date        string `json:"date"`
	Datetime    string `json:"datetime,omitempty"`
	String      string `json:"string,omitempty"`
	IsRecurring bool   `json:"is_recurring,omitempty"`
}

// EffectivePriority returns the task priority, defaulting to the lowest.
func (t Task) EffectivePriority() int {
	if t.Priority == 0 {
		return DefaultPriority
	}
	return t.Priority
}

// InBacklog reports whether the task has no section assignment.
func (t Task) InBacklog() bool {
	return t.SectionID == nil || *t.SectionID == ""
}

// HasLabel reports whether the task already carries the label.
func (t Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// LabelSet returns the task labels as a set.
func (t Task) LabelSet() map[string]bool {
	set := make(map[string]bool, len(t.Labels))
	for _, l := range t.Labels {
		set[l] = true
	}
	return set
}

// DueString returns a human form of the due date for prompts.
func (t Task) DueString() string {
	if t.Due == nil {
		return "No due date"
	}
	if t.Due.String != "" {
		return t.Due.String
	}
	if t.Due.Date != "" {
		return t.Due.Date
	}
	return "No due date"
}

// MergeLabels returns existing plus additions, keeping order and dropping duplicates.
func MergeLabels(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing)+len(additions))
	out := make([]string, 0, len(existing)+len(additions))
	for _, l := range append(append([]string{}, existing...), additions...) {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Section is a named bucket inside a project.
type Section struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// Label is a named label known to the task service.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project groups tasks and sections.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LinkKind tells how a URL appeared in task text.
type LinkKind string

const (
	LinkMarkdown LinkKind = "markdown"
	LinkPlain    LinkKind = "plain"
)

// Link is a URL found in task content.
type Link struct {
	URL          string   `json:"url"`
	OriginalText string   `json:"original_text"`
	Kind         LinkKind `json:"type"`
}
