package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the tools config when the backing file changes on
// disk, so edits made by an operator (or another process) take effect
// without a restart.
type Watcher struct {
	store   *ToolStore
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewWatcher creates a watcher over the store's file.
func NewWatcher(store *ToolStore, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{store: store, watcher: fsw, logger: logger}, nil
}

// Run processes events until the context is cancelled. Reloads are
// debounced because editors fire several events per save.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var debounce *time.Timer
	target := filepath.Clean(w.store.Path())

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
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := w.store.Reload(); err != nil {
					w.logger.Warn("Tools config reload failed", zap.Error(err))
					return
				}
				w.logger.Info("Tools config reloaded", zap.String("path", target))
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Tools config watcher error", zap.Error(err))
		}
	}
}
