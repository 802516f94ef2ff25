package manager

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// debounceWindow drops repeat events for the same path arriving
	// within this window after the last accepted one.
	debounceWindow = time.Second

	// settleDelay gives the writer a moment to finish before the file
	// is re-read.
	settleDelay = 100 * time.Millisecond
)

// Notifier delivers filesystem change events for watched directories.
// It exists so a polling implementation can stand in for fsnotify on
// filesystems where native watches are unavailable.
type Notifier interface {
	// Add starts watching a directory. Adding the same directory twice
	// is harmless.
	Add(dir string) error

	// Events yields absolute paths of changed files.
	Events() <-chan string

	// Errors yields non-fatal watch errors.
	Errors() <-chan error

	Close() error
}

// fsnotifyNotifier adapts fsnotify to the Notifier interface,
// forwarding only events that indicate new content (writes, and the
// creates produced by atomic renames).
type fsnotifyNotifier struct {
	watcher *fsnotify.Watcher
	events  chan string
}

func newFsnotifyNotifier() (*fsnotifyNotifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	n := &fsnotifyNotifier{watcher: w, events: make(chan string)}
	go n.forward()

	return n, nil
}

func (n *fsnotifyNotifier) forward() {
	defer close(n.events)

	for event := range n.watcher.Events {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			continue
		}

		abs, err := filepath.Abs(event.Name)
		if err != nil {
			continue
		}

		n.events <- abs
	}
}

func (n *fsnotifyNotifier) Add(dir string) error { return n.watcher.Add(dir) }

func (n *fsnotifyNotifier) Events() <-chan string { return n.events }

func (n *fsnotifyNotifier) Errors() <-chan error { return n.watcher.Errors }

func (n *fsnotifyNotifier) Close() error { return n.watcher.Close() }

// Watcher reloads the configuration when the config file or the
// current token file changes on disk. Bursts of events for the same
// path are debounced into a single reload.
type Watcher struct {
	manager    *Manager
	configPath string
	logger     *slog.Logger
	notifier   Notifier

	// settle, window, and reload are overridable for tests.
	settle time.Duration
	window time.Duration
	reload func()
}

// NewWatcher creates a watcher for the manager's config file.
func NewWatcher(m *Manager, logger *slog.Logger) *Watcher {
	return &Watcher{
		manager:    m,
		configPath: m.configPath,
		logger:     logger,
		settle:     settleDelay,
		window:     debounceWindow,
		reload:     m.Reload,
	}
}

// Watch blocks watching for changes until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.notifier == nil {
		n, err := newFsnotifyNotifier()
		if err != nil {
			return err
		}

		w.notifier = n
	}
	defer w.notifier.Close()

	watched := make(map[string]struct{})

	if err := w.addDirs(watched); err != nil {
		return err
	}

	w.logger.Info("watching config and token files for changes")

	lastAccepted := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path, ok := <-w.notifier.Events():
			if !ok {
				return fmt.Errorf("watch events channel closed unexpectedly")
			}

			if path != w.configPath && path != w.manager.TokenPath() {
				continue
			}

			if last, ok := lastAccepted[path]; ok && time.Since(last) < w.window {
				continue
			}

			lastAccepted[path] = time.Now()

			// Let the writer finish before re-reading.
			time.Sleep(w.settle)

			w.logger.Info("config or token file changed, reloading")
			w.reload()

			// The reload may have moved the token file to a new
			// directory.
			if err := w.addDirs(watched); err != nil {
				w.logger.Warn("updating watched directories", slog.String("error", err.Error()))
			}

		case err, ok := <-w.notifier.Errors():
			if !ok {
				return fmt.Errorf("watch errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// addDirs ensures the directories holding the config file and the
// current token file are watched. Directories are never removed; stale
// watches only produce events that fail the path match.
func (w *Watcher) addDirs(watched map[string]struct{}) error {
	dirs := []string{filepath.Dir(w.configPath)}
	if tokenPath := w.manager.TokenPath(); tokenPath != "" {
		dirs = append(dirs, filepath.Dir(tokenPath))
	}

	for _, dir := range dirs {
		if _, ok := watched[dir]; ok {
			continue
		}

		if err := w.notifier.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}

		watched[dir] = struct{}{}
	}

	return nil
}
