package todoist

import "github.com/pbaille/triage/internal/domain"

// apiTask is a task as the REST API encodes it. Its priority runs the other
// way round: 4 is urgent, 1 is normal.
type apiTask struct {
	ID          string      `json:"id"`
	Content     string      `json:"content"`
	Description string      `json:"description"`
	Labels      []string    `json:"labels"`
	Priority    int         `json:"priority"`
	Due         *domain.Due `json:"due"`
	CreatedAt   string      `json:"created_at"`
	SectionID   *string     `json:"section_id"`
	ProjectID   string      `json:"project_id"`
	IsCompleted bool        `json:"is_completed"`
}

func (t apiTask) toDomain() domain.Task {
	return domain.Task{
		ID:          t.ID,
		Content:     t.Content,
		Description: t.Description,
		Labels:      t.Labels,
		Priority:    FromAPIPriority(t.Priority),
		Due:         t.Due,
		CreatedAt:   t.CreatedAt,
		SectionID:   t.SectionID,
		ProjectID:   t.ProjectID,
		Completed:   t.IsCompleted,
	}
}

// FromAPIPriority converts an API priority to the 1 = highest scale.
// Out-of-range values become 0 (unset).
func FromAPIPriority(p int) int {
	if p < 1 || p > 4 {
		return 0
	}
	return 5 - p
}

// ToAPIPriority is the inverse of FromAPIPriority; 0 maps to normal.
func ToAPIPriority(p int) int {
	if p < 1 || p > 4 {
		return 1
	}
	return 5 - p
}
