package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 200 * time.Millisecond

// RulesWatcher keeps a rules document current by reloading it when the file
// changes. A document that fails to load leaves the previous rules in place.
type RulesWatcher struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	current   *RulesConfig
	callbacks []func(*RulesConfig)

	watcher *fsnotify.Watcher
}

// NewRulesWatcher starts watching the directory holding path. Editors often
// replace files by rename, so the directory is watched rather than the file.
func NewRulesWatcher(path string, initial *RulesConfig, logger *zap.Logger) (*RulesWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &RulesWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		watcher: fsw,
	}, nil
}

// Current returns the latest successfully loaded rules.
func (w *RulesWatcher) Current() *RulesConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback run after each successful reload.
func (w *RulesWatcher) OnChange(fn func(*RulesConfig)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *RulesWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Clean(w.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("rules file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			debounce = time.After(reloadDebounce)
		case <-debounce:
			debounce = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}

func (w *RulesWatcher) reload() {
	cfg, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn("rules reload failed, keeping previous rules",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(*RulesConfig){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("rules reloaded",
		zap.String("path", w.path),
		zap.Int("rules", len(cfg.Rules)),
	)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
