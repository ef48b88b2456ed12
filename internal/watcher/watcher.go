// Package watcher turns file system events into folder change
// notifications. It never re-indexes inline; the coordinator owns
// scheduling, so a storm of events collapses into one incremental run.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Notifier receives change notifications for a folder.
type Notifier interface {
	NotifyChange(folderID, path string)
}

// Watcher watches one folder root and reports changes to a Notifier.
type Watcher struct {
	folderID   string
	root       string
	notifier   Notifier
	extensions map[string]bool

	// debounce holds pending file paths to batch into one notification
	debounce     map[string]struct{}
	debounceMu   sync.Mutex
	debounceTime time.Duration
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// New creates a watcher for a folder. extensions limits events to
// files the indexer can extract.
func New(folderID, root string, notifier Notifier, extensions []string, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	w := &Watcher{
		folderID:     folderID,
		root:         absRoot,
		notifier:     notifier,
		extensions:   extSet,
		debounce:     make(map[string]struct{}),
		debounceTime: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching for file changes. Blocks until context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.root)

	go w.flushLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds all directories to the watcher.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != w.root {
			return filepath.SkipDir
		}
		if shouldSkipDir(name) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// shouldSkipDir returns true if directory should not be watched.
func shouldSkipDir(name string) bool {
	skipDirs := []string{
		"node_modules", "vendor", "dist", "build", "out", "target",
		".git", ".idea", ".vscode", "__pycache__",
	}
	for _, skip := range skipDirs {
		if name == skip {
			return true
		}
	}
	return false
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	// New directories need to be watched too
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !shouldSkipDir(filepath.Base(path)) {
				watcher.Add(path)
				log.Debug("Added directory to watch", "path", path)
			}
			return
		}
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return
	}

	if !w.isIndexableFile(path) {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] = struct{}{}
	w.debounceMu.Unlock()
}

// isIndexableFile checks if the extractpipeline handles this file.
func (w *Watcher) isIndexableFile(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return w.extensions[ext]
}

// flushLoop periodically collapses pending events into a single
// notification.
func (w *Watcher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush emits one notification covering all pending paths.
func (w *Watcher) flush() {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	count := len(w.debounce)
	var sample string
	for p := range w.debounce {
		sample = p
		break
	}
	w.debounce = make(map[string]struct{})
	w.debounceMu.Unlock()

	log.Debug("Detected file changes", "root", w.root, "count", count)
	w.notifier.NotifyChange(w.folderID, sample)
}
