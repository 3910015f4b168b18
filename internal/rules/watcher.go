package rules

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher serves the current rule Set and hot-reloads it when the backing
// YAML file changes. Reload failures keep the previous Set in service.
type Watcher struct {
	mu      sync.RWMutex
	current *Set

	path    string
	watcher *fsnotify.Watcher
	logger  *zap.SugaredLogger
	done    chan struct{}
}

// NewWatcher starts with the given Set. If path is non-empty the file is
// loaded immediately and watched for changes.
func NewWatcher(initial *Set, path string, logger *zap.SugaredLogger) (*Watcher, error) {
	w := &Watcher{
		current: initial,
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
	}

	if path == "" {
		return w, nil
	}

	loaded, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	w.current = loaded

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than writing in place.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch rules file: %w", err)
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

// Current returns the rule Set in service.
func (w *Watcher) Current() *Set {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching. Safe to call when no file is being watched.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			loaded, err := LoadFile(w.path)
			if err != nil {
				w.logger.Warnw("rules reload failed, keeping previous table", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			w.current = loaded
			w.mu.Unlock()
			w.logger.Infow("rules reloaded", "path", w.path,
				"selectors", len(loaded.Selectors), "texts", len(loaded.Texts))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("rules watcher error", "error", err)
		}
	}
}
