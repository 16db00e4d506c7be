// Package watch reruns ingestion when a watched directory tree changes.
// Events are debounced so a burst of writes costs one pass, not one per file.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

const defaultDebounce = 2 * time.Second

// Trigger runs one ingestion pass. ErrIngestRunning means a pass is already
// in flight; the watcher re-arms and tries again after the debounce window.
type Trigger func(ctx context.Context) error

type Watcher struct {
	roots    []string
	debounce time.Duration
	trigger  Trigger
}

// New builds a watcher over the given roots. Returns nil when there is
// nothing to watch.
func New(roots []string, debounce time.Duration, trigger Trigger) *Watcher {
	if len(roots) == 0 {
		return nil
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{roots: roots, debounce: debounce, trigger: trigger}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range w.roots {
		if err := addWatchDirs(watcher, root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	logger := logutil.GetLogger(ctx)
	logger.Info("watching source roots", zap.Strings("roots", w.roots))

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(event) {
				continue
			}
			// A created directory must be added while the event is fresh,
			// or files landing inside it go unseen.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchDirs(watcher, event.Name)
				}
			}
			if !pending {
				timer.Reset(w.debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fs watch error", zap.Error(err))
		case <-timer.C:
			pending = false
			if err := w.trigger(ctx); err != nil {
				if appErr.IsIngestRunning(err) {
					// The change lands in a later pass; try again shortly.
					timer.Reset(w.debounce)
					pending = true
					continue
				}
				logger.Error("watch-triggered ingest failed", zap.Error(err))
			}
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(filepath.Base(path), ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	return strings.HasPrefix(filepath.Base(event.Name), ".")
}
