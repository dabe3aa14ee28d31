package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for changes to settle
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog directory into a Memory whenever files change.
// A reload that fails keeps the previous catalog.
type Watcher struct {
	dir      string
	target   *Memory
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	reloads uint64
	lastErr error
}

// NewWatcher creates a watcher for dir. Call Run to start it.
func NewWatcher(dir string, target *Memory, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		target:   target,
		debounce: debounce,
		watcher:  fsWatcher,
	}, nil
}

// Load reads dir into target once.
func Load(dir string, target *Memory) error {
	set, err := LoadDir(os.DirFS(dir), ".")
	if err != nil {
		return err
	}
	target.Replace(set)
	return nil
}

// Reload reads the directory and swaps it into the target.
func (w *Watcher) Reload() error {
	err := Load(w.dir, w.target)

	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
	w.mu.Unlock()

	if err != nil {
		slog.Error("catalog reload failed, keeping previous catalog", "dir", w.dir, "error", err)
		return err
	}
	templates, partials := w.target.Len()
	slog.Info("catalog reloaded", "dir", w.dir, "templates", templates, "partials", partials)
	return nil
}

// Reloads returns the number of successful reloads and the last reload error.
func (w *Watcher) Reloads() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.lastErr
}

// Run watches the directory tree until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watchDirRecursive(w.dir); err != nil {
		return err
	}
	slog.Info("watching catalog", "dir", w.dir)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirRecursive(event.Name); err != nil {
						slog.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("catalog watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and its subdirectories to the watch list.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
