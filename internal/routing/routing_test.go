package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
)

type fakeSections struct {
	sections  map[string][]domain.Section
	listCalls int
	created   []string
	moves     map[string]string
	listErr   error
}

func newFake(sections ...domain.Section) *fakeSections {
	f := &fakeSections{sections: map[string][]domain.Section{}, moves: map[string]string{}}
	for _, s := range sections {
		f.sections[s.ProjectID] = append(f.sections[s.ProjectID], s)
	}
	return f
}

func (f *fakeSections) Sections(_ context.Context, projectID string) ([]domain.Section, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sections[projectID], nil
}

func (f *fakeSections) CreateSection(_ context.Context, projectID, name string) (*domain.Section, error) {
	s := domain.Section{ID: "new-" + name, Name: name, ProjectID: projectID}
	f.sections[projectID] = append(f.sections[projectID], s)
	f.created = append(f.created, name)
	return &s, nil
}

func (f *fakeSections) MoveTask(_ context.Context, taskID, sectionID string) error {
	f.moves[taskID] = sectionID
	return nil
}

func set(labels ...string) map[string]bool {
	m := map[string]bool{}
	for _, l := range labels {
		m[l] = true
	}
	return m
}

func TestSelectSection_PriorityThenFileOrder(t *testing.T) {
	rules := []config.Rule{
		{Label: "a", MoveTo: "A", Priority: 5},
		{Label: "b", MoveTo: "B", Priority: 1},
		{Label: "c", MoveTo: "C", Priority: 1},
	}
	existing := map[string]string{"A": "1", "B": "2", "C": "3"}

	choice, ok := SelectSection(set("a", "b", "c"), rules, existing)
	require.True(t, ok)
	assert.Equal(t, &Choice{SectionName: "B", SectionID: "2"}, choice)

	want := []Candidate{
		{SectionName: "B", Priority: 1, Label: "b", Exists: true},
		{SectionName: "C", Priority: 1, Label: "c", Exists: true},
		{SectionName: "A", Priority: 5, Label: "a", Exists: true},
	}
	if diff := cmp.Diff(want, Candidates(set("a", "b", "c"), rules, existing)); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectSection_CreateIfMissing(t *testing.T) {
	rules := []config.Rule{
		{Label: "read", MoveTo: "Reading", Priority: 1},
		{Label: "read", MoveTo: "Later", Priority: 2, CreateIfMissing: true},
		{Label: "read", MoveTo: "Archive", Priority: 3},
	}

	choice, ok := SelectSection(set("read"), rules, map[string]string{})
	require.True(t, ok)
	assert.Equal(t, &Choice{SectionName: "Later", Create: true}, choice)

	choice, ok = SelectSection(set("read"), rules, map[string]string{"Archive": "9"})
	require.True(t, ok)
	assert.Equal(t, "Later", choice.SectionName, "creatable beats an existing lower-priority section")

	_, ok = SelectSection(set("read"), rules[:1], map[string]string{})
	assert.False(t, ok)
}

func TestSelectSection_DefaultPriorityAndNoMoveTo(t *testing.T) {
	rules := []config.Rule{
		{Label: "x", MoveTo: "Default"},
		{Label: "x", MoveTo: "Explicit", Priority: 10},
		{Label: "x"},
	}
	choice, ok := SelectSection(set("x"), rules, map[string]string{"Default": "1", "Explicit": "2"})
	require.True(t, ok)
	assert.Equal(t, "Explicit", choice.SectionName)

	_, ok = SelectSection(set("y"), rules, map[string]string{"Default": "1"})
	assert.False(t, ok)
}

func TestSectionCache_FetchOnceCreateOnce(t *testing.T) {
	fake := newFake(domain.Section{ID: "s1", Name: "Work", ProjectID: "p"})
	cache := NewSectionCache(fake)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := cache.Sections(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, "s1", m["Work"])
	}
	assert.Equal(t, 1, fake.listCalls)

	id, created, err := cache.Ensure(ctx, "p", "Reading")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "new-Reading", id)

	id, created, err = cache.Ensure(ctx, "p", "Reading")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "new-Reading", id)
	assert.Equal(t, []string{"Reading"}, fake.created)
	assert.Equal(t, 1, fake.listCalls)
}

func TestRouter_Route(t *testing.T) {
	rules := []config.Rule{
		{Label: "work", MoveTo: "Work", Priority: 1},
		{Label: "link", MoveTo: "Reading", Priority: 2, CreateIfMissing: true},
	}
	ctx := context.Background()

	t.Run("moves backlog task", func(t *testing.T) {
		fake := newFake(domain.Section{ID: "s1", Name: "Work", ProjectID: "p"})
		r := NewRouter(fake, nil, rules, false, nil)
		move, err := r.Route(ctx, domain.Task{ID: "t1", ProjectID: "p"}, []string{"work", "link"})
		require.NoError(t, err)
		require.NotNil(t, move)
		assert.Equal(t, "s1", move.SectionID)
		assert.False(t, move.Created)
		assert.Equal(t, map[string]string{"t1": "s1"}, fake.moves)
	})

	t.Run("creates missing section", func(t *testing.T) {
		fake := newFake()
		r := NewRouter(fake, nil, rules, false, nil)
		move, err := r.Route(ctx, domain.Task{ID: "t1", ProjectID: "p"}, []string{"link"})
		require.NoError(t, err)
		assert.True(t, move.Created)
		assert.Equal(t, "new-Reading", fake.moves["t1"])
	})

	t.Run("skips tasks already in a section", func(t *testing.T) {
		fake := newFake(domain.Section{ID: "s1", Name: "Work", ProjectID: "p"})
		r := NewRouter(fake, nil, rules, false, nil)
		sec := "s9"
		move, err := r.Route(ctx, domain.Task{ID: "t1", ProjectID: "p", SectionID: &sec}, []string{"work"})
		require.NoError(t, err)
		assert.Nil(t, move)
		assert.Empty(t, fake.moves)
		assert.Zero(t, fake.listCalls)
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		fake := newFake()
		r := NewRouter(fake, nil, rules, true, nil)
		move, err := r.Route(ctx, domain.Task{ID: "t1", ProjectID: "p"}, []string{"link"})
		require.NoError(t, err)
		assert.True(t, move.DryRun)
		assert.True(t, move.Created)
		assert.Empty(t, fake.created)
		assert.Empty(t, fake.moves)
	})

	t.Run("list error", func(t *testing.T) {
		fake := newFake()
		fake.listErr = errors.New("boom")
		r := NewRouter(fake, nil, rules, false, nil)
		_, err := r.Route(ctx, domain.Task{ID: "t1", ProjectID: "p"}, []string{"work"})
		assert.Error(t, err)
	})
}
