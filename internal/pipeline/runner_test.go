package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/labeling"
	"github.com/pbaille/triage/internal/metrics"
	"github.com/pbaille/triage/internal/ranking"
	"github.com/pbaille/triage/internal/routing"
	"github.com/pbaille/triage/internal/rules"
	"github.com/pbaille/triage/internal/state"
	"github.com/pbaille/triage/internal/store"
	"github.com/pbaille/triage/internal/todoist"
)

var wednesday = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

type fakeService struct {
	project    *domain.Project
	projectErr error
	tasks      []domain.Task
	sections   []domain.Section
	updates    map[string][]todoist.TaskUpdate
	updateErr  map[string]error
	ensured    []string
	created    []string
	moves      map[string]string
}

func newService(tasks ...domain.Task) *fakeService {
	return &fakeService{
		project:   &domain.Project{ID: "p1", Name: "Inbox"},
		tasks:     tasks,
		sections:  []domain.Section{{ID: "s1", Name: "Reading", ProjectID: "p1"}},
		updates:   map[string][]todoist.TaskUpdate{},
		updateErr: map[string]error{},
		moves:     map[string]string{},
	}
}

func (f *fakeService) ProjectByName(_ context.Context, name string) (*domain.Project, error) {
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	return f.project, nil
}

func (f *fakeService) Tasks(_ context.Context, projectID string) ([]domain.Task, error) {
	return f.tasks, nil
}

func (f *fakeService) UpdateTask(_ context.Context, id string, u todoist.TaskUpdate) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeService) EnsureLabel(_ context.Context, name string) (*domain.Label, bool, error) {
	f.ensured = append(f.ensured, name)
	return &domain.Label{ID: "l-" + name, Name: name}, false, nil
}

func (f *fakeService) Sections(_ context.Context, projectID string) ([]domain.Section, error) {
	return f.sections, nil
}

func (f *fakeService) CreateSection(_ context.Context, projectID, name string) (*domain.Section, error) {
	s := domain.Section{ID: "new-" + name, Name: name, ProjectID: projectID}
	f.sections = append(f.sections, s)
	f.created = append(f.created, name)
	return &s, nil
}

func (f *fakeService) MoveTask(_ context.Context, taskID, sectionID string) error {
	f.moves[taskID] = sectionID
	return nil
}

type fakeFetcher map[string]string

func (f fakeFetcher) FetchTitle(_ context.Context, url string) (string, bool) {
	title, ok := f[url]
	return title, ok
}

func sectionID(id string) *string { return &id }

func testRules() []config.Rule {
	return []config.Rule{
		{Matcher: string(config.MatchURL), Label: "link", MoveTo: "Reading", Priority: 1},
		{Contains: config.Keywords{"dentist"}, Label: "health", MoveTo: "Health", CreateIfMissing: true},
	}
}

type fixture struct {
	svc     *fakeService
	journal *store.Store
	metrics *metrics.Collector
	lastRun *state.LastRun
}

func newRunner(t *testing.T, svc *fakeService, opts Options) (*Runner, *fixture) {
	t.Helper()
	dir := t.TempDir()
	journal, err := store.New(filepath.Join(dir, "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	rs := testRules()
	chain := labeling.Build(labeling.Deps{
		Matcher: rules.NewMatcher(rs, nil),
		Rules:   &config.RulesConfig{Rules: rs},
	}, nil)
	labeler := labeling.NewPipeline(chain, labeling.Options{ConfidenceThreshold: 0.6}, nil)

	rc := config.DefaultRankingConfig()
	scorer := ranking.NewScorer(rc, nil, ranking.WithClock(func() time.Time { return wednesday }))
	reranker := ranking.NewReranker(scorer, nil, ranking.RerankOptions{Config: rc.GPTReranking}, nil)

	fx := &fixture{
		svc:     svc,
		journal: journal,
		metrics: metrics.NewCollector(),
		lastRun: state.NewLastRun(filepath.Join(dir, "last_run")),
	}
	if opts.Mode == "" {
		opts.Mode = "work"
	}
	opts.Ranking = rc
	r := NewRunner(Deps{
		Tasks: svc,
		Fetcher: fakeFetcher{
			"https://github.com/golang/go": "golang/go",
		},
		Labeler:  labeler,
		Rules:    rs,
		Reranker: reranker,
		Journal:  journal,
		Metrics:  fx.metrics,
		LastRun:  fx.lastRun,
		Now:      func() time.Time { return wednesday },
	}, opts, nil)
	return r, fx
}

func runTasks() []domain.Task {
	return []domain.Task{
		{ID: "t1", Content: "https://github.com/golang/go", ProjectID: "p1"},
		{ID: "t2", Content: "Book dentist appointment", ProjectID: "p1"},
		{ID: "t3", Content: "dentist invoice", ProjectID: "p1", SectionID: sectionID("s9")},
		{ID: "t4", Content: "done already", ProjectID: "p1", Completed: true},
	}
}

func TestRun(t *testing.T) {
	svc := newService(runTasks()...)
	r, fx := newRunner(t, svc, Options{})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSummary{Processed: 3, Labeled: 3, Enriched: 1, Moved: 2, Skipped: 1}, rep.Summary)
	assert.Equal(t, "work", rep.Mode)
	require.NotNil(t, rep.Stats)
	assert.Equal(t, 3, rep.Stats.TasksProcessed)

	t.Run("enrichment rewrites the plain url", func(t *testing.T) {
		require.NotEmpty(t, svc.updates["t1"])
		first := svc.updates["t1"][0]
		require.NotNil(t, first.Content)
		assert.Equal(t, "[golang/go](https://github.com/golang/go)", *first.Content)
		assert.Equal(t, []string{"link"}, first.Labels)
	})

	t.Run("domain label added after enrichment", func(t *testing.T) {
		last := svc.updates["t1"][len(svc.updates["t1"])-1]
		assert.Equal(t, []string{"link", "github"}, last.Labels)
	})

	t.Run("routing", func(t *testing.T) {
		assert.Equal(t, map[string]string{"t1": "s1", "t2": "new-Health"}, svc.moves)
		assert.Equal(t, []string{"Health"}, svc.created)
	})

	t.Run("labels ensured before use", func(t *testing.T) {
		assert.Contains(t, svc.ensured, "health")
		assert.Contains(t, svc.ensured, "github")
	})

	t.Run("journal", func(t *testing.T) {
		run, err := fx.journal.GetRun(rep.RunID)
		require.NoError(t, err)
		assert.Equal(t, rep.Summary, run.Summary)

		actions, err := fx.journal.RunActions(rep.RunID)
		require.NoError(t, err)
		kinds := map[string]int{}
		for _, a := range actions {
			kinds[a.Kind]++
		}
		assert.Equal(t, map[string]int{domain.ActionEnrich: 1, domain.ActionLabel: 3, domain.ActionMove: 2}, kinds)
	})

	t.Run("metrics and last run", func(t *testing.T) {
		assert.Equal(t, 3.0, testutil.ToFloat64(fx.metrics.TasksProcessed))
		assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.LinksEnriched))
		saved, ok, err := fx.lastRun.Load()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, saved.Equal(wednesday))
	})
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	svc := newService(runTasks()...)
	r, fx := newRunner(t, svc, Options{DryRun: true})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, svc.updates)
	assert.Empty(t, svc.moves)
	assert.Empty(t, svc.created)
	assert.Empty(t, svc.ensured)
	assert.Equal(t, 2, rep.Summary.Moved)
	for _, m := range rep.Moves {
		assert.True(t, m.DryRun)
	}

	_, ok, err := fx.lastRun.Load()
	require.NoError(t, err)
	assert.False(t, ok, "dry runs do not advance the last run")
}

func TestRun_SkipsTasksBeforeSince(t *testing.T) {
	svc := newService(
		domain.Task{ID: "old", Content: "dentist from last year", ProjectID: "p1", CreatedAt: "2024-03-01T09:00:00Z"},
		domain.Task{ID: "new", Content: "dentist follow-up", ProjectID: "p1", CreatedAt: "2024-03-12T18:30:00.123456Z"},
		domain.Task{ID: "undated", Content: "dentist x-ray", ProjectID: "p1"},
	)
	r, _ := newRunner(t, svc, Options{Since: time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Summary.Processed)
	assert.Equal(t, 1, rep.Summary.Skipped)
	assert.NotContains(t, svc.updates, "old")
	assert.Contains(t, svc.updates, "new")
	assert.Contains(t, svc.updates, "undated")
}

func TestRun_CanceledKeepsLastRun(t *testing.T) {
	svc := newService(runTasks()...)
	r, fx := newRunner(t, svc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Zero(t, rep.Summary.Processed)

	_, ok, err := fx.lastRun.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_TaskFailureContinues(t *testing.T) {
	svc := newService(runTasks()...)
	svc.updateErr["t2"] = errors.New("boom")
	r, fx := newRunner(t, svc, Options{})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Summary.Failed)
	assert.Equal(t, 2, rep.Summary.Labeled)
	assert.NotContains(t, svc.moves, "t2", "failed tasks are not routed")
	assert.Contains(t, svc.moves, "t1")
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.TaskFailures.WithLabelValues("label")))
}

func TestRun_UnreachableServiceAborts(t *testing.T) {
	svc := newService()
	svc.projectErr = todoist.ErrNotFound
	r, _ := newRunner(t, svc, Options{})

	rep, err := r.Run(context.Background())
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, todoist.ErrNotFound)
}

func TestRun_SecondPassIsNoop(t *testing.T) {
	svc := newService(
		domain.Task{ID: "t2", Content: "Book dentist appointment", ProjectID: "p1", Labels: []string{"health"}, SectionID: sectionID("new-Health")},
	)
	r, _ := newRunner(t, svc, Options{})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunSummary{Processed: 1}, rep.Summary)
	assert.Empty(t, svc.updates)
	assert.Empty(t, svc.moves)
}

func todayTasks() []domain.Task {
	return []domain.Task{
		{ID: "a", Content: "ship release", ProjectID: "p1", Priority: 1},
		{ID: "b", Content: "water plants", ProjectID: "p1", Priority: 4},
		{ID: "c", Content: "ignored", ProjectID: "p1", Priority: 1, Labels: []string{"rank-ignore"}},
	}
}

func TestToday(t *testing.T) {
	svc := newService(todayTasks()...)
	r, fx := newRunner(t, svc, Options{})

	rep, err := r.Today(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, rep.Ranking, 1)
	assert.Equal(t, "a", rep.Ranking[0].Task.ID)
	assert.Equal(t, domain.RankBaseOnly, rep.Ranking[0].Source)
	assert.Equal(t, 2, rep.Summary.Processed)
	assert.Equal(t, 1, rep.Summary.Skipped)
	assert.Equal(t, 1, rep.Summary.Moved)

	assert.Equal(t, []string{"Today"}, svc.created)
	assert.Equal(t, map[string]string{"a": "new-Today"}, svc.moves)
	require.Len(t, svc.updates["a"], 1)
	assert.Equal(t, []string{"today"}, svc.updates["a"][0].Labels)
	assert.NotContains(t, svc.updates, "b")

	stored, err := fx.journal.RunRanking(rep.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "a", stored[0].TaskID)
}

func TestToday_AlreadyPicked(t *testing.T) {
	svc := newService(domain.Task{
		ID: "a", Content: "ship release", ProjectID: "p1", Priority: 1,
		Labels: []string{"today"}, SectionID: sectionID("s-today"),
	})
	svc.sections = append(svc.sections, domain.Section{ID: "s-today", Name: "Today", ProjectID: "p1"})
	r, _ := newRunner(t, svc, Options{})

	rep, err := r.Today(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.Moved)
	assert.Empty(t, svc.moves)
	assert.Empty(t, svc.updates)
	assert.Empty(t, svc.created)
}

func TestToday_DryRun(t *testing.T) {
	svc := newService(todayTasks()...)
	r, _ := newRunner(t, svc, Options{DryRun: true})

	rep, err := r.Today(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, rep.Ranking, 2)
	assert.Zero(t, rep.Summary.Moved)
	assert.Empty(t, svc.moves)
	assert.Empty(t, svc.updates)
	assert.Empty(t, svc.ensured)
}

func TestRank_ReadOnly(t *testing.T) {
	svc := newService(todayTasks()...)
	r, _ := newRunner(t, svc, Options{})

	rep, err := r.Rank(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rep.Ranking, 2)
	assert.Equal(t, []string{"a", "b"}, []string{rep.Ranking[0].Task.ID, rep.Ranking[1].Task.ID})
	assert.Empty(t, svc.updates)
	assert.Empty(t, svc.moves)
}

var _ routing.SectionService = (*fakeService)(nil)
