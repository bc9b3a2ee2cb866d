// Package ranking scores tasks for the today list and optionally re-ranks the
// best candidates with a language model.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/links"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/mode"
)

const (
	ageHorizonDays  = 30.0
	missingAgeScore = 0.1
)

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock sets the time source used for due dates, ages and auto mode.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithTimeModes sets the schedule used to resolve the auto mode.
func WithTimeModes(tb config.TimeBasedModes) Option {
	return func(s *Scorer) { s.timeModes = tb }
}

// Scorer computes composite scores. It is pure given its clock.
type Scorer struct {
	cfg       *config.RankingConfig
	now       func() time.Time
	timeModes config.TimeBasedModes
	logger    *zap.Logger
}

// NewScorer creates a scorer over cfg.
func NewScorer(cfg *config.RankingConfig, logger *zap.Logger, opts ...Option) *Scorer {
	s := &Scorer{cfg: cfg, now: time.Now, logger: logging.OrNop(logger)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the ranking document in use.
func (s *Scorer) Config() *config.RankingConfig { return s.cfg }

// ResolveMode turns "auto" or "" into a concrete mode.
func (s *Scorer) ResolveMode(m string) string {
	return mode.Resolve(m, mode.Personal, s.now(), s.timeModes)
}

// Score computes the composite score of one task for a concrete mode.
func (s *Scorer) Score(task domain.Task, m string) domain.ScoredTask {
	now := s.now()
	raw := domain.Components{
		Priority:        clamp(s.priorityScore(task)),
		DueDate:         clamp(s.dueScore(task, now)),
		Age:             clamp(s.ageScore(task, now)),
		LabelPreference: clamp(s.labelScore(task, m)),
	}
	w := s.cfg.WeightsFor(m)
	weighted := domain.Components{
		Priority:        raw.Priority * w.Priority,
		DueDate:         raw.DueDate * w.DueDate,
		Age:             raw.Age * w.Age,
		LabelPreference: raw.LabelPreference * w.LabelPreference,
	}
	return domain.ScoredTask{
		Task:        task,
		Score:       round3(weighted.Sum()),
		Explanation: s.explain(task, m, raw),
		Components:  weighted,
		Raw:         raw,
	}
}

// Rank scores every eligible task and returns the best limit, highest first.
// Completed tasks and tasks labelled only as links are skipped. Equal scores
// keep input order. A non-positive limit means the configured default.
func (s *Scorer) Rank(tasks []domain.Task, m string, limit int) []domain.ScoredTask {
	m = s.ResolveMode(m)
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	scored := make([]domain.ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		if !eligible(t) {
			continue
		}
		st := s.Score(t, m)
		s.logger.Debug("RANK_CANDIDATE",
			zap.String("task_id", t.ID),
			zap.Float64("score", st.Score),
			zap.String("mode", m),
		)
		scored = append(scored, st)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func eligible(t domain.Task) bool {
	if t.Completed {
		return false
	}
	if len(t.Labels) == 0 {
		return true
	}
	for _, l := range t.Labels {
		if l != links.LinkLabel {
			return true
		}
	}
	return false
}

func (s *Scorer) priorityScore(t domain.Task) float64 {
	if v, ok := s.cfg.PriorityScore(t.EffectivePriority()); ok {
		return v
	}
	return s.cfg.FallbackWeights.NoPriority
}

func (s *Scorer) dueScore(t domain.Task, now time.Time) float64 {
	due, ok := ParseDue(t.Due)
	if !ok {
		return s.cfg.FallbackWeights.NoDueDate
	}
	d := s.cfg.DueDateScores
	days := int(math.Floor(due.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return d.Overdue
	case days == 0:
		return d.Today
	case days == 1:
		return d.Tomorrow
	case days <= 7:
		return d.ThisWeek
	}
	return d.Future
}

func (s *Scorer) ageScore(t domain.Task, now time.Time) float64 {
	created, err := time.Parse(time.RFC3339Nano, t.CreatedAt)
	if err != nil {
		return missingAgeScore
	}
	days := math.Floor(now.Sub(created).Hours() / 24)
	return math.Min(math.Max(days, 0)/ageHorizonDays, 1)
}

func (s *Scorer) labelScore(t domain.Task, m string) float64 {
	if len(t.Labels) == 0 {
		return s.cfg.FallbackWeights.NoPreferredLabels
	}
	ms := s.cfg.ModeSettings[m]
	labels := t.LabelSet()
	for _, ex := range ms.ExcludedLabels {
		if labels[ex] {
			return 0
		}
	}
	if n := len(preferredMatches(t, ms.PreferredLabels)); n > 0 {
		return math.Min(0.4*float64(n), 1)
	}
	return 0.5
}

func preferredMatches(t domain.Task, preferred []string) []string {
	want := make(map[string]bool, len(preferred))
	for _, p := range preferred {
		want[p] = true
	}
	var out []string
	for _, l := range t.Labels {
		if want[l] {
			out = append(out, l)
		}
	}
	return out
}

func (s *Scorer) explain(t domain.Task, m string, raw domain.Components) string {
	var parts []string
	if raw.Priority > 0.7 {
		parts = append(parts, fmt.Sprintf("high priority (p%d)", t.EffectivePriority()))
	}
	if t.Due != nil && raw.DueDate > 0.8 {
		parts = append(parts, "due soon")
	} else if raw.DueDate == 1.0 {
		parts = append(parts, "overdue")
	}
	if raw.LabelPreference > 0.5 {
		if matched := preferredMatches(t, s.cfg.ModeSettings[m].PreferredLabels); len(matched) > 0 {
			parts = append(parts, "preferred labels: "+strings.Join(matched, ", "))
		}
	}
	if raw.Age > 0.5 {
		parts = append(parts, "older task")
	}
	if len(parts) == 0 {
		return "standard scoring"
	}
	return strings.Join(parts, "; ")
}

// ParseDue returns the due instant. A date without time means the end of
// that day in UTC.
func ParseDue(d *domain.Due) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	if d.Datetime != "" {
		if t, err := time.Parse(time.RFC3339, d.Datetime); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02T15:04:05", d.Datetime); err == nil {
			return t.UTC(), true
		}
	}
	if d.Date == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, d.Date); err == nil {
		return t, true
	}
	day, err := time.Parse(time.DateOnly, d.Date)
	if err != nil {
		return time.Time{}, false
	}
	return day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), true
}

func clamp(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
