package livereload

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shaharia-lab/devserver/internal/eventbus"
)

// DefaultDebounce coalesces bursts of writes (editors, bundlers) into one reload.
const DefaultDebounce = 100 * time.Millisecond

// EventPublisher allows the watcher to emit changes without depending on a
// concrete event bus implementation.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// Watcher recursively watches a directory tree and publishes debounced
// file.changed events.
type Watcher struct {
	root     string
	debounce time.Duration
	events   EventPublisher
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching every directory under root. Call Run to
// process events and Close (or cancel Run's context) to stop.
func NewWatcher(root string, debounce time.Duration, events EventPublisher, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		events:   events,
		logger:   logger,
		fsw:      fsw,
	}
	n, err := w.addTree(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	logger.Info("watching project root", "root", root, "directories", n)
	return w, nil
}

// Run processes file system events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		pending = make(map[string]struct{})
		last    string
		timer   *time.Timer
		fire    <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			rel, relevant := w.handle(ev)
			if !relevant {
				continue
			}
			pending[rel] = struct{}{}
			last = rel
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			w.events.Publish(eventbus.FileChanged, map[string]string{
				"path":  last,
				"count": strconv.Itoa(len(pending)),
			})
			w.logger.Debug("files changed", "path", last, "count", len(pending))
			pending = make(map[string]struct{})
			fire = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Close stops the underlying watcher. Run returns once its channels close.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// handle filters an event and returns its root-relative, slash-separated path.
// New directories are added to the watch set.
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	if ev.Op == fsnotify.Chmod || ignored(filepath.Base(ev.Name)) {
		return "", false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if ignored(part) {
			return "", false
		}
	}

	if ev.Has(fsnotify.Create) {
		if n, err := w.addTree(ev.Name); err == nil && n > 0 {
			w.logger.Debug("watching new directory", "path", rel, "directories", n)
		}
	}
	return filepath.ToSlash(rel), true
}

// addTree watches dir and all non-ignored subdirectories. It returns the
// number of directories added; a regular file adds nothing.
func (w *Watcher) addTree(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %q: %w", path, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("walking %q: %w", dir, err)
	}
	return count, nil
}

// ignored reports whether a path element should never trigger a reload.
func ignored(name string) bool {
	switch {
	case name == "node_modules":
		return true
	case strings.HasPrefix(name, ".") && name != "." && name != "..":
		return true
	case strings.HasSuffix(name, "~"), strings.HasSuffix(name, ".swp"):
		return true
	}
	return false
}
