package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/voxel/engine/core"
)

// Watcher reloads the config file when it changes on disk and fires
// core.EVENT_CODE_CONFIG_RELOADED with the new *Config. A file that fails to parse is
// logged and the previous config stays current.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config

	closeOnce sync.Once
}

func NewWatcher(path string, initial *Config) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by renaming over them, so the directory is watched.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &Watcher{
		path:    filepath.Clean(path),
		watcher: fsWatch,
		current: initial,
	}, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start processes file events until ctx is done or the watcher is closed. Run it in a
// goroutine.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(e)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(e fsnotify.Event) {
	if filepath.Clean(e.Name) != w.path {
		return
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	w.reload()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogError("config reload rejected: %s", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	if keys := RestartRequired(old, cfg); len(keys) > 0 {
		core.LogWarn("config keys %v changed, they apply on the next start", keys)
	}
	core.LogInfo("config %s reloaded", w.path)
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_CONFIG_RELOADED,
		Data: cfg,
	})
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
