package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher re-runs a render callback whenever a file under one of the
// watched directories changes, coalescing bursts of writes.
type Watcher struct {
	dirs     []string
	ignore   map[string]struct{}
	debounce time.Duration
	fn       func(context.Context) error
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches dirs. Changes to files named in ignore (base names,
// such as the lock file) are skipped.
func NewWatcher(dirs []string, ignore []string, debounce time.Duration, fn func(context.Context) error, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	ign := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		ign[name] = struct{}{}
	}
	return &Watcher{dirs: dirs, ignore: ign, debounce: debounce, fn: fn, logger: logger, watcher: w}, nil
}

// Run renders once, then blocks re-rendering on change until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating watched dir: %w", err)
		}
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	w.fire(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if _, skip := w.ignore[filepath.Base(event.Name)]; skip {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.fire(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	if err := w.fn(ctx); err != nil {
		w.logger.Warn("render failed", zap.Error(err))
		return
	}
	w.logger.Debug("rendered after change")
}
