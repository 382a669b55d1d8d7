package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// rebuildWatcher watches a directory tree and calls rebuild once a burst of
// relevant changes has settled.
type rebuildWatcher struct {
	root     string
	patterns []string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

func newRebuildWatcher(root string, patterns []string, debounce time.Duration, logger *slog.Logger) (*rebuildWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &rebuildWatcher{root: root, patterns: patterns, debounce: debounce, logger: logger, watcher: fw}
	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *rebuildWatcher) Close() error {
	return w.watcher.Close()
}

func (w *rebuildWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// relevant reports whether a change to path should trigger a rebuild. Hidden
// files never do; with no patterns everything else does. A pattern matches
// against the base name or the path relative to the root.
func (w *rebuildWatcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return false
		}
	}
	if len(w.patterns) == 0 {
		return true
	}
	for _, pattern := range w.patterns {
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Run builds once, then again after every settled burst of changes, until
// ctx is done.
func (w *rebuildWatcher) Run(ctx context.Context, rebuild func()) error {
	rebuild()
	w.logger.Info("watching " + w.root)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.relevant(event.Name) {
					_ = w.addRecursive(event.Name)
				}
			}
			if event.Has(fsnotify.Chmod) || !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug("changed: " + event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			rebuild()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			w.logger.Warn("watch error: " + err.Error())
		}
	}
}
