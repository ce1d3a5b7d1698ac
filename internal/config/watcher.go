package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"wildfiregpt/internal/logging"
)

// StageWatcher reloads stage configuration when files in the stage
// directory change, so prompt edits do not require a restart.
type StageWatcher struct {
	dir      string
	onReload func(map[string]*StageConfig)
	watcher  *fsnotify.Watcher
}

// NewStageWatcher watches dir for stage YAML edits. onReload receives the
// freshly loaded stage set; it is never called with a broken config.
func NewStageWatcher(dir string, onReload func(map[string]*StageConfig)) (*StageWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &StageWatcher{dir: dir, onReload: onReload, watcher: watcher}, nil
}

// Run processes events until the context is cancelled. Rapid successive
// writes (editor save patterns) are debounced into one reload.
func (w *StageWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != ".yml" && filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Warn("Stage watcher error: %v", err)
		case <-pending:
			pending = nil
			stages, err := LoadStages(w.dir)
			if err != nil {
				logging.Get(logging.CategoryConfig).Error("Stage reload failed, keeping previous config: %v", err)
				continue
			}
			logging.Get(logging.CategoryConfig).Info("Stage configuration reloaded from %s", w.dir)
			w.onReload(stages)
		}
	}
}
