package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs an initial Run, then re-runs Run every time fsnotify reports
// a filesystem change under root, debounced by the given interval so a
// burst of saves (an editor, a git checkout) triggers one re-sync instead
// of many. onRun is called after each run with its resulting stats; it may
// be nil. Watch blocks until ctx is cancelled or the watcher closes.
func (e *Engine) Watch(ctx context.Context, root string, debounce time.Duration, onRun func(*Stats, error)) error {
	stats, err := e.Run(ctx, root, false)
	if onRun != nil {
		onRun(stats, err)
	}
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root); err != nil {
		return fmt.Errorf("sync: watch %s: %w", root, err)
	}

	var timer *time.Timer
	resyncCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case resyncCh <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("sync: watcher error", slog.String("error", watchErr.Error()))

		case <-resyncCh:
			stats, err := e.Run(ctx, root, false)
			if onRun != nil {
				onRun(stats, err)
			}
		}
	}
}

// addRecursive registers every directory under root with watcher, since
// fsnotify only watches the directories it's explicitly told about.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
