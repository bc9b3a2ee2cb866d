package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/triage/internal/domain"
)

//go:embed schema.sql
var schema string

// Store is the run journal: one row per run, the actions it took on tasks
// and the rankings it produced.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal at dbPath.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records the start of a run and returns it
func (s *Store) StartRun(command, mode string, dryRun bool) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.New().String(),
		Command:   command,
		Mode:      mode,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		"INSERT INTO runs (id, command, mode, dry_run, started_at) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Command, run.Mode, run.DryRun, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the summary and end time of a run
func (s *Store) FinishRun(runID string, sum domain.RunSummary) error {
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, processed = ?, labeled = ?, enriched = ?,
			moved = ?, skipped = ?, failed = ?, llm_cost = ?
		WHERE id = ?`,
		time.Now().UTC(), sum.Processed, sum.Labeled, sum.Enriched,
		sum.Moved, sum.Skipped, sum.Failed, sum.LLMCost, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, command, mode, dry_run, started_at, finished_at,
			processed, labeled, enriched, moved, skipped, failed, llm_cost
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]domain.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, command, mode, dry_run, started_at, finished_at,
			processed, labeled, enriched, moved, skipped, failed, llm_cost
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	var (
		run      domain.Run
		finished sql.NullTime
	)
	err := sc.Scan(
		&run.ID, &run.Command, &run.Mode, &run.DryRun, &run.StartedAt, &finished,
		&run.Summary.Processed, &run.Summary.Labeled, &run.Summary.Enriched,
		&run.Summary.Moved, &run.Summary.Skipped, &run.Summary.Failed, &run.Summary.LLMCost,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// RecordAction appends a task action to a run
func (s *Store) RecordAction(a domain.TaskAction) (*domain.TaskAction, error) {
	a.ID = uuid.New().String()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO task_actions (id, run_id, task_id, kind, detail, source, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.TaskID, a.Kind, a.Detail, a.Source, a.Confidence, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}
	return &a, nil
}

// RunActions returns the actions of a run in the order they were recorded
func (s *Store) RunActions(runID string) ([]domain.TaskAction, error) {
	return s.queryActions(
		"SELECT id, run_id, task_id, kind, detail, source, confidence, created_at FROM task_actions WHERE run_id = ? ORDER BY created_at, rowid",
		runID,
	)
}

// TaskHistory returns every action ever taken on a task, oldest first
func (s *Store) TaskHistory(taskID string) ([]domain.TaskAction, error) {
	return s.queryActions(
		"SELECT id, run_id, task_id, kind, detail, source, confidence, created_at FROM task_actions WHERE task_id = ? ORDER BY created_at, rowid",
		taskID,
	)
}

func (s *Store) queryActions(query string, arg string) ([]domain.TaskAction, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.TaskAction
	for rows.Next() {
		var a domain.TaskAction
		if err := rows.Scan(&a.ID, &a.RunID, &a.TaskID, &a.Kind, &a.Detail, &a.Source, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// SaveRanking stores a ranking for a run, replacing any previous one
func (s *Store) SaveRanking(runID string, ranked []domain.EnhancedScoredTask) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM rankings WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clear ranking: %w", err)
	}
	for i, et := range ranked {
		explanation := et.BaseExplanation
		if et.GPTExplanation != "" {
			explanation = et.GPTExplanation
		}
		_, err := tx.Exec(
			`INSERT INTO rankings (run_id, position, task_id, content, base_score, final_score, source, explanation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i+1, et.Task.ID, et.Task.Content, et.BaseScore, et.FinalScore, string(et.Source), explanation,
		)
		if err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
	}
	return tx.Commit()
}

// RunRanking returns the stored ranking of a run
func (s *Store) RunRanking(runID string) ([]domain.RankingEntry, error) {
	rows, err := s.db.Query(`
		SELECT run_id, position, task_id, content, base_score, final_score, source, explanation
		FROM rankings WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("get ranking: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.RunID, &e.Position, &e.TaskID, &e.Content, &e.BaseScore, &e.FinalScore, &e.Source, &e.Explanation); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
