package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a config file on every write, swapping the live
// Config's fields in place via ReplaceFrom so callers holding the original
// pointer see the update.
type Watcher struct {
	path    string
	live    *Config
	watcher *fsnotify.Watcher
	onReload func(*Config)
}

// NewWatcher creates a Watcher for path, watching its containing directory
// so the reload survives editors that replace the file via rename.
func NewWatcher(path string, live *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, live: live, watcher: fw}, nil
}

// SetOnReload registers a callback fired after every successful reload, used
// to re-validate model bindings or notify bridges of agent changes.
func (w *Watcher) SetOnReload(fn func(*Config)) { w.onReload = fn }

// Start watches for changes until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.watcher.Close()
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			}
		}
	}()
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		slog.Warn("config hot reload failed, keeping previous config", "path", w.path, "err", err)
		return
	}
	w.live.ReplaceFrom(next)
	w.live.ApplyEnvOverrides()
	slog.Info("config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(w.live)
	}
}
