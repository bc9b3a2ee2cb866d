package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/routing"
	"github.com/pbaille/triage/internal/todoist"
)

// candidates drops completed tasks and tasks the user has flagged with a
// feedback label.
func (r *Runner) candidates(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed || r.flagged(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (r *Runner) flagged(t domain.Task) bool {
	for _, l := range r.opts.Ranking.Labels.FeedbackLabels {
		if t.HasLabel(l) {
			return true
		}
	}
	return false
}

// Rank ranks the open tasks of the project without writing to the task
// service. The ranking is journaled.
func (r *Runner) Rank(ctx context.Context, limit int) (*Report, error) {
	_, tasks, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	rep := r.start("rank", r.Mode())
	r.rank(ctx, rep, tasks, limit)
	r.finish(rep)
	return rep, nil
}

func (r *Runner) rank(ctx context.Context, rep *Report, tasks []domain.Task, limit int) {
	open := r.candidates(tasks)
	rep.Summary.Processed = len(open)
	rep.Summary.Skipped = len(tasks) - len(open)

	rep.Ranking, rep.Usage = r.deps.Reranker.RerankWithExplanations(ctx, open, rep.Mode, limit)
	for _, et := range rep.Ranking {
		rep.Summary.LLMCost += et.Cost
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRanking(rep.Ranking)
	}
	if r.deps.Journal != nil && rep.RunID != "" {
		if err := r.deps.Journal.SaveRanking(rep.RunID, rep.Ranking); err != nil {
			r.logger.Warn("ranking not journaled", zap.Error(err))
		}
	}
}

// Today ranks the open tasks, moves the top picks into the today section and
// marks them with the today label. A task already in the section and marked
// is left alone.
func (r *Runner) Today(ctx context.Context, limit int) (*Report, error) {
	project, tasks, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	rep := r.start("today", r.Mode())
	defer r.finish(rep)

	r.rank(ctx, rep, tasks, limit)

	sections := r.opts.Ranking.Sections
	marker := r.opts.Ranking.Labels.TodayMarker
	if r.opts.DryRun {
		for i, et := range rep.Ranking {
			r.logger.Info("TODAY_PICK (dry run)",
				zap.Int("position", i+1),
				zap.String("task_id", et.Task.ID),
				zap.Float64("score", et.FinalScore),
			)
		}
		return rep, nil
	}
	if len(rep.Ranking) == 0 {
		return rep, nil
	}

	sectionID, err := r.todaySection(ctx, project.ID, sections.TodaySection, sections.CreateIfMissing)
	if err != nil {
		return rep, err
	}
	if marker != "" {
		if _, _, err := r.deps.Tasks.EnsureLabel(ctx, marker); err != nil {
			return rep, fmt.Errorf("ensure today marker: %w", err)
		}
	}

	for i, et := range rep.Ranking {
		if err := r.pick(ctx, et.Task, sectionID, marker); err != nil {
			r.fail(rep, "today", et.Task, err)
			continue
		}
		rep.Summary.Moved++
		r.record(rep, domain.TaskAction{
			TaskID:     et.Task.ID,
			Kind:       domain.ActionToday,
			Detail:     sections.TodaySection,
			Source:     string(et.Source),
			Confidence: et.FinalScore,
		})
		r.logger.Info("TODAY_PICK",
			zap.Int("position", i+1),
			zap.String("task_id", et.Task.ID),
			zap.Float64("score", et.FinalScore),
		)
	}
	return rep, nil
}

// todaySection returns the id of the today section. An empty id means the
// section is missing and may not be created; picks are then only marked.
func (r *Runner) todaySection(ctx context.Context, projectID, name string, create bool) (string, error) {
	if name == "" {
		return "", nil
	}
	cache := routing.NewSectionCache(r.deps.Tasks)
	if create {
		id, _, err := cache.Ensure(ctx, projectID, name)
		if err != nil {
			return "", fmt.Errorf("ensure today section: %w", err)
		}
		return id, nil
	}
	existing, err := cache.Sections(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("list sections: %w", err)
	}
	id, ok := existing[name]
	if !ok {
		r.logger.Warn("today section missing", zap.String("section", name))
	}
	return id, nil
}

func (r *Runner) pick(ctx context.Context, task domain.Task, sectionID, marker string) error {
	if sectionID != "" && (task.SectionID == nil || *task.SectionID != sectionID) {
		if err := r.deps.Tasks.MoveTask(ctx, task.ID, sectionID); err != nil {
			return err
		}
	}
	if marker != "" && !task.HasLabel(marker) {
		labels := domain.MergeLabels(task.Labels, []string{marker})
		if err := r.deps.Tasks.UpdateTask(ctx, task.ID, todoist.TaskUpdate{Labels: labels}); err != nil {
			return err
		}
	}
	return nil
}
