package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/logging"
)

// SectionService is the part of the task service routing needs.
type SectionService interface {
	Sections(ctx context.Context, projectID string) ([]domain.Section, error)
	CreateSection(ctx context.Context, projectID, name string) (*domain.Section, error)
	MoveTask(ctx context.Context, taskID, sectionID string) error
}

// SectionCache maps project id to section name to section id. Each project
// is fetched at most once; created sections are recorded so they are never
// created twice. It lives for one run.
type SectionCache struct {
	svc      SectionService
	projects map[string]map[string]string
}

// NewSectionCache creates an empty cache over svc.
func NewSectionCache(svc SectionService) *SectionCache {
	return &SectionCache{svc: svc, projects: make(map[string]map[string]string)}
}

// Sections returns the name to id map of a project.
func (c *SectionCache) Sections(ctx context.Context, projectID string) (map[string]string, error) {
	if m, ok := c.projects[projectID]; ok {
		return m, nil
	}
	list, err := c.svc.Sections(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	m := make(map[string]string, len(list))
	for _, s := range list {
		m[s.Name] = s.ID
	}
	c.projects[projectID] = m
	return m, nil
}

// Ensure returns the id of the named section, creating it if needed.
func (c *SectionCache) Ensure(ctx context.Context, projectID, name string) (string, bool, error) {
	m, err := c.Sections(ctx, projectID)
	if err != nil {
		return "", false, err
	}
	if id, ok := m[name]; ok {
		return id, false, nil
	}
	s, err := c.svc.CreateSection(ctx, projectID, name)
	if err != nil {
		return "", false, fmt.Errorf("create section %q: %w", name, err)
	}
	m[name] = s.ID
	return s.ID, true, nil
}

// Move describes a routing decision.
type Move struct {
	TaskID      string `json:"task_id"`
	SectionName string `json:"section_name"`
	SectionID   string `json:"section_id,omitempty"`
	Created     bool   `json:"created,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

// Router applies SelectSection to tasks.
type Router struct {
	cache  *SectionCache
	svc    SectionService
	rules  []config.Rule
	dryRun bool
	logger *zap.Logger
}

// NewRouter creates a router. In dry-run mode nothing is created or moved.
func NewRouter(svc SectionService, cache *SectionCache, rules []config.Rule, dryRun bool, logger *zap.Logger) *Router {
	if cache == nil {
		cache = NewSectionCache(svc)
	}
	return &Router{cache: cache, svc: svc, rules: rules, dryRun: dryRun, logger: logging.OrNop(logger)}
}

// Route moves a backlog task to the section its labels select. It returns
// nil when the task already sits in a section or no rule applies, so a
// second pass over the same task does nothing.
func (r *Router) Route(ctx context.Context, task domain.Task, labels []string) (*Move, error) {
	if !task.InBacklog() {
		return nil, nil
	}
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}

	existing, err := r.cache.Sections(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	choice, ok := SelectSection(set, r.rules, existing)
	if !ok {
		return nil, nil
	}

	move := &Move{TaskID: task.ID, SectionName: choice.SectionName, SectionID: choice.SectionID, DryRun: r.dryRun}
	if r.dryRun {
		move.Created = choice.Create
		r.logger.Info("SECTION_MOVE (dry run)",
			zap.String("task_id", task.ID),
			zap.String("section", choice.SectionName),
		)
		return move, nil
	}

	if choice.Create {
		id, created, err := r.cache.Ensure(ctx, task.ProjectID, choice.SectionName)
		if err != nil {
			return nil, err
		}
		move.SectionID, move.Created = id, created
	}
	if err := r.svc.MoveTask(ctx, task.ID, move.SectionID); err != nil {
		return nil, fmt.Errorf("move task %s: %w", task.ID, err)
	}
	r.logger.Info("SECTION_MOVE",
		zap.String("task_id", task.ID),
		zap.String("section", move.SectionName),
		zap.String("section_id", move.SectionID),
		zap.Bool("created", move.Created),
	)
	return move, nil
}
