package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchedFiles are the configuration files whose changes trigger a reload.
var watchedFiles = map[string]bool{
	"parley.yaml": true,
	"tools.yaml":  true,
}

// Watcher reloads the registry when configuration files change on disk.
// Enabled with CONFIG_WATCH=true; a failed reload keeps the previous
// snapshot (Registry semantics), so a bad edit never takes the server down.
type Watcher struct {
	registry *Registry
	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher creates a watcher over the registry's config directory.
// The directory is watched rather than the files: editors replace files
// on save and direct file watches break on rename.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(registry.ConfigDir()); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", registry.ConfigDir(), err)
	}
	return &Watcher{
		registry: registry,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; Stop ends the loop.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	slog.Info("Watching configuration directory", "config_dir", w.registry.ConfigDir())
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.fsw.Close(); err != nil {
			slog.Error("Error closing config watcher", "error", err)
		}
	}()

	// Debounce timer coalesces editor write bursts into one reload
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watchedFiles[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			changed := filepath.Base(event.Name)
			debounce = time.AfterFunc(debounceDelay, func() {
				slog.Info("Configuration file changed, reloading", "file", changed)
				if err := w.registry.Reload(ctx); err != nil {
					slog.Error("Reload from file watch failed", "error", err)
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}
