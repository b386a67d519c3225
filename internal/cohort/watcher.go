package cohort

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kiranshivaraju/eventsync/pkg/models"
)

// Watcher holds the current cohort definitions and reloads them when the file
// changes. A file that fails to parse leaves the previous definitions in place.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	defs []Definition
}

// NewWatcher loads path once. The initial load must succeed.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	defs, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, logger: logger, defs: defs}, nil
}

// Definitions returns the current cohort definitions.
func (w *Watcher) Definitions() []Definition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.defs
}

// Resolve returns the tenant's cohorts under the current definitions.
func (w *Watcher) Resolve(tenant *models.Tenant) []models.Cohort {
	return Resolve(w.Definitions(), tenant)
}

// Reload re-reads the file.
func (w *Watcher) Reload() error {
	defs, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.defs = defs
	w.mu.Unlock()
	w.logger.Info("cohorts reloaded", "path", w.path, "count", len(defs))
	return nil
}

// Run watches the file's directory until ctx is cancelled. The directory is
// watched rather than the file so atomic rename-over saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cohorts watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch cohorts dir: %w", err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Error("cohorts reload failed, keeping previous definitions", "path", w.path, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("cohorts watcher error", "error", err)
		}
	}
}
