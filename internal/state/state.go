// Package state keeps the timestamp of the last successful run.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LastRun is a file holding one RFC 3339 timestamp.
type LastRun struct {
	path string
}

// NewLastRun returns the last-run file at path.
func NewLastRun(path string) *LastRun {
	return &LastRun{path: path}
}

// Path returns the file location.
func (l *LastRun) Path() string { return l.path }

// Load returns the stored time. A missing file reports false without error.
func (l *LastRun) Load() (time.Time, bool, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last run: %w", err)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %q: %w", l.path, err)
	}
	return t, true, nil
}

// Save replaces the stored time. The file is written next to its target and
// renamed over it, so readers never see a partial timestamp.
func (l *LastRun) Save(t time.Time) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".last_run-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(t.UTC().Format(time.RFC3339) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write last run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace last run: %w", err)
	}
	return nil
}
