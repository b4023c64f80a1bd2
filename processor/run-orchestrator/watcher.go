package runorchestrator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PlanWatcher watches the verification plan file and emits a debounced
// signal when it changes. Editors write plans as rename-then-create, so
// the watch sits on the containing directory, not the file itself.
type PlanWatcher struct {
	planPath string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	changes chan struct{}
}

// NewPlanWatcher creates a watcher for the given plan file.
func NewPlanWatcher(planPath string, debounce time.Duration, logger *slog.Logger) (*PlanWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanWatcher{
		planPath: planPath,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		changes:  make(chan struct{}, 1),
	}, nil
}

// Changes returns the channel signalling debounced plan changes.
func (w *PlanWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Start begins watching the plan file's directory.
func (w *PlanWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.planPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Plan watcher started",
		"plan", w.planPath,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher. The changes channel is closed by
// processEvents when it exits.
func (w *PlanWatcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *PlanWatcher) processEvents(ctx context.Context) {
	defer close(w.changes)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Plan watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent marks the plan dirty when the watched file changes.
func (w *PlanWatcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.planPath) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()
}

// flushPending emits at most one change signal per debounce window.
func (w *PlanWatcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !dirty {
		return
	}

	select {
	case w.changes <- struct{}{}:
	default:
	}
}
