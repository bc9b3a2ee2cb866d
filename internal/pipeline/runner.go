// Package pipeline runs the triage passes against the task service: link
// enrichment, labeling and section routing for every task, and the today
// ranking.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/labeling"
	"github.com/pbaille/triage/internal/links"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/metrics"
	"github.com/pbaille/triage/internal/mode"
	"github.com/pbaille/triage/internal/ranking"
	"github.com/pbaille/triage/internal/routing"
	"github.com/pbaille/triage/internal/state"
	"github.com/pbaille/triage/internal/todoist"
)

// TaskService is the part of the task service a run needs.
type TaskService interface {
	routing.SectionService
	ProjectByName(ctx context.Context, name string) (*domain.Project, error)
	Tasks(ctx context.Context, projectID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, u todoist.TaskUpdate) error
	EnsureLabel(ctx context.Context, name string) (*domain.Label, bool, error)
}

// TitleFetcher resolves the page title of a URL.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, url string) (string, bool)
}

// Journal records runs. *store.Store satisfies it.
type Journal interface {
	StartRun(command, mode string, dryRun bool) (*domain.Run, error)
	FinishRun(runID string, sum domain.RunSummary) error
	RecordAction(a domain.TaskAction) (*domain.TaskAction, error)
	SaveRanking(runID string, ranked []domain.EnhancedScoredTask) error
}

// Options tunes a Runner.
type Options struct {
	Project     string
	Mode        string
	DefaultMode string
	TimeModes   config.TimeBasedModes
	DryRun      bool
	Ranking     *config.RankingConfig
	// Since skips tasks created before it. Zero processes every task.
	Since time.Time
}

// Deps are the collaborators of a Runner. Fetcher, Journal, Metrics and
// LastRun are optional.
type Deps struct {
	Tasks    TaskService
	Fetcher  TitleFetcher
	Labeler  *labeling.Pipeline
	Rules    []config.Rule
	Reranker *ranking.Reranker
	Journal  Journal
	Metrics  *metrics.Collector
	LastRun  *state.LastRun
	Now      func() time.Time
}

// Report is the outcome of a run.
type Report struct {
	RunID    string                      `json:"run_id,omitempty"`
	Command  string                      `json:"command"`
	Mode     string                      `json:"mode"`
	DryRun   bool                        `json:"dry_run"`
	Summary  domain.RunSummary           `json:"summary"`
	Labeling []*domain.LabelingResult    `json:"labeling,omitempty"`
	Stats    *labeling.Stats             `json:"label_stats,omitempty"`
	Moves    []routing.Move              `json:"moves,omitempty"`
	Ranking  []domain.EnhancedScoredTask `json:"ranking,omitempty"`
	Usage    ranking.Usage               `json:"usage"`
}

// Runner executes runs. Tasks are processed one at a time.
type Runner struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(deps Deps, opts Options, logger *zap.Logger) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Ranking == nil {
		opts.Ranking = config.DefaultRankingConfig()
	}
	return &Runner{deps: deps, opts: opts, logger: logging.OrNop(logger)}
}

// Mode returns the concrete mode for this run.
func (r *Runner) Mode() string {
	return mode.Resolve(r.opts.Mode, r.opts.DefaultMode, r.deps.Now(), r.opts.TimeModes)
}

func (r *Runner) load(ctx context.Context) (*domain.Project, []domain.Task, error) {
	project, err := r.deps.Tasks.ProjectByName(ctx, r.opts.Project)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve project: %w", err)
	}
	tasks, err := r.deps.Tasks.Tasks(ctx, project.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tasks: %w", err)
	}
	return project, tasks, nil
}

func (r *Runner) start(command, m string) *Report {
	rep := &Report{Command: command, Mode: m, DryRun: r.opts.DryRun}
	if r.deps.Journal == nil {
		return rep
	}
	run, err := r.deps.Journal.StartRun(command, m, r.opts.DryRun)
	if err != nil {
		r.logger.Warn("journal unavailable", zap.Error(err))
		return rep
	}
	rep.RunID = run.ID
	return rep
}

func (r *Runner) finish(rep *Report) {
	if r.deps.Journal != nil && rep.RunID != "" {
		if err := r.deps.Journal.FinishRun(rep.RunID, rep.Summary); err != nil {
			r.logger.Warn("journal finish failed", zap.Error(err))
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRun(rep.Command, rep.Summary)
	}
	r.logger.Info("RUN_SUMMARY",
		zap.String("command", rep.Command),
		zap.String("mode", rep.Mode),
		zap.Bool("dry_run", rep.DryRun),
		zap.Int("processed", rep.Summary.Processed),
		zap.Int("labeled", rep.Summary.Labeled),
		zap.Int("enriched", rep.Summary.Enriched),
		zap.Int("moved", rep.Summary.Moved),
		zap.Int("failed", rep.Summary.Failed),
		zap.Float64("llm_cost", rep.Summary.LLMCost),
	)
}

// saveLastRun stamps the end of a completed, non dry run.
func (r *Runner) saveLastRun() {
	if r.opts.DryRun || r.deps.LastRun == nil {
		return
	}
	if err := r.deps.LastRun.Save(r.deps.Now()); err != nil {
		r.logger.Warn("last run not saved", zap.Error(err))
	}
}

// createdBefore reports whether the task is older than t. Tasks without a
// readable creation time count as new.
func createdBefore(task domain.Task, t time.Time) bool {
	if t.IsZero() || task.CreatedAt == "" {
		return false
	}
	created, err := time.Parse(time.RFC3339Nano, task.CreatedAt)
	if err != nil {
		return false
	}
	return created.Before(t)
}

func (r *Runner) record(rep *Report, a domain.TaskAction) {
	if r.deps.Journal == nil || rep.RunID == "" {
		return
	}
	a.RunID = rep.RunID
	if _, err := r.deps.Journal.RecordAction(a); err != nil {
		r.logger.Warn("journal action failed", zap.String("task_id", a.TaskID), zap.Error(err))
	}
}

func (r *Runner) fail(rep *Report, stage string, task domain.Task, err error) {
	rep.Summary.Failed++
	if r.deps.Metrics != nil {
		r.deps.Metrics.TaskFailures.WithLabelValues(stage).Inc()
	}
	r.logger.Error("task failed",
		zap.String("stage", stage),
		zap.String("task_id", task.ID),
		zap.Error(err),
	)
}

// Run enriches, labels and routes every open task of the project created
// since Options.Since. The last-run time is saved only when the loop
// completes. Only
// failing to reach the task service aborts the run; per-task failures are
// counted and the run goes on.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	_, tasks, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	m := r.Mode()
	rep := r.start("run", m)
	router := routing.NewRouter(r.deps.Tasks, nil, r.deps.Rules, r.opts.DryRun, r.logger)

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			r.finish(rep)
			return rep, err
		}
		if task.Completed || createdBefore(task, r.opts.Since) {
			rep.Summary.Skipped++
			continue
		}
		rep.Summary.Processed++

		task, err := r.enrich(ctx, rep, task)
		if err != nil {
			r.fail(rep, "enrich", task, err)
		}

		res := r.deps.Labeler.Run(ctx, task, m)
		rep.Labeling = append(rep.Labeling, res)
		if err := r.applyLabels(ctx, rep, task, res); err != nil {
			r.fail(rep, "label", task, err)
			continue
		}

		move, err := router.Route(ctx, task, domain.MergeLabels(task.Labels, res.LabelsToAdd))
		if err != nil {
			r.fail(rep, "route", task, err)
			continue
		}
		if move != nil {
			rep.Moves = append(rep.Moves, *move)
			rep.Summary.Moved++
			r.record(rep, domain.TaskAction{TaskID: task.ID, Kind: domain.ActionMove, Detail: move.SectionName})
		}
	}

	stats := r.deps.Labeler.Stats()
	rep.Stats = &stats
	r.finish(rep)
	r.saveLastRun()
	return rep, nil
}

// enrich rewrites a task whose whole content is a URL as a titled markdown
// link and labels it as a link. The returned task reflects the change.
func (r *Runner) enrich(ctx context.Context, rep *Report, task domain.Task) (domain.Task, error) {
	if r.deps.Fetcher == nil || !links.IsPlainURL(task.Content) {
		return task, nil
	}
	u := links.CompactURL(task.Content)
	title, ok := r.deps.Fetcher.FetchTitle(ctx, u)
	if !ok {
		return task, nil
	}
	content := links.Markdown(title, u)
	labels := domain.MergeLabels(task.Labels, []string{links.LinkLabel})

	if !r.opts.DryRun {
		if _, _, err := r.deps.Tasks.EnsureLabel(ctx, links.LinkLabel); err != nil {
			return task, err
		}
		if err := r.deps.Tasks.UpdateTask(ctx, task.ID, todoist.TaskUpdate{Content: &content, Labels: labels}); err != nil {
			return task, err
		}
	}
	task.Content = content
	task.Labels = labels
	rep.Summary.Enriched++
	r.record(rep, domain.TaskAction{TaskID: task.ID, Kind: domain.ActionEnrich, Detail: content})
	r.logger.Info("LINK_ENRICHED", zap.String("task_id", task.ID), zap.String("title", title))
	return task, nil
}

func (r *Runner) applyLabels(ctx context.Context, rep *Report, task domain.Task, res *domain.LabelingResult) error {
	if !res.HasNewLabels() {
		return nil
	}
	if !r.opts.DryRun {
		for _, l := range res.LabelsToAdd {
			if _, _, err := r.deps.Tasks.EnsureLabel(ctx, l); err != nil {
				return err
			}
		}
		update := todoist.TaskUpdate{Labels: domain.MergeLabels(task.Labels, res.LabelsToAdd)}
		if err := r.deps.Tasks.UpdateTask(ctx, task.ID, update); err != nil {
			return err
		}
	}
	rep.Summary.Labeled++
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordLabels(res)
	}
	sources := res.Sources()
	for _, l := range res.LabelsToAdd {
		r.record(rep, domain.TaskAction{
			TaskID:     task.ID,
			Kind:       domain.ActionLabel,
			Detail:     l,
			Source:     string(sources[l]),
			Confidence: res.Confidence[l],
		})
	}
	r.logger.Info("LABELS_APPLIED",
		zap.String("task_id", task.ID),
		zap.Strings("labels", res.LabelsToAdd),
		zap.Bool("dry_run", r.opts.DryRun),
	)
	return nil
}
