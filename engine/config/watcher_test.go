package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxel.toml")
	writeConfig(t, path, "[log]\nlevel = \"info\"\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestWatcherReloadFiresEvent(t *testing.T) {
	require.True(t, core.EventSystemInitialize())
	t.Cleanup(func() { _ = core.EventSystemShutdown() })

	var got *Config
	require.True(t, core.EventRegister(core.EVENT_CODE_CONFIG_RELOADED, func(ctx core.EventContext) {
		got = ctx.Data.(*Config)
	}))

	w, path := newTestWatcher(t)
	writeConfig(t, path, "[log]\nlevel = \"debug\"\n")
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})

	require.NotNil(t, got)
	assert.Equal(t, "debug", got.Log.Level)
	assert.Same(t, got, w.Current())
}

func TestWatcherKeepsConfigOnParseError(t *testing.T) {
	w, path := newTestWatcher(t)
	before := w.Current()

	writeConfig(t, path, "[graph]\nframes_in_flight = 0\n")
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})

	assert.Same(t, before, w.Current())
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	w, path := newTestWatcher(t)
	before := w.Current()

	writeConfig(t, path, "[log]\nlevel = \"warn\"\n")
	w.handleEvent(fsnotify.Event{Name: filepath.Join(filepath.Dir(path), "other.toml"), Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Chmod})

	assert.Same(t, before, w.Current())
}

func TestWatcherPicksUpFileChanges(t *testing.T) {
	w, path := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	writeConfig(t, path, "[log]\nlevel = \"error\"\n")
	assert.Eventually(t, func() bool {
		return w.Current().Log.Level == "error"
	}, 5*time.Second, 10*time.Millisecond)
}
