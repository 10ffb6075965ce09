package gravity

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// AwaitAnyPath blocks until any of the candidate paths exists or the
// timeout elapses, and reports whether one appeared. It watches the
// candidates' parent directories and rescans periodically as a fallback
// for events lost before the watch was established. Used to confirm
// backend-specific side artifacts, like the scheduler's persisted job
// database whose exact filename depends on the storage engine.
func AwaitAnyPath(ctx context.Context, paths []string, timeout time.Duration) (bool, error) {
	if anyPathExists(paths) {
		return true, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer func() { _ = watcher.Close() }()

	dirs := map[string]struct{}{}
	for _, p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		// A missing parent is fine; the rescan ticker covers it
		_ = watcher.Add(dir)
	}

	// Events may have fired between the first scan and the watch setup
	if anyPathExists(paths) {
		return true, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	rescan := time.NewTicker(time.Second)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return anyPathExists(paths), nil
		case <-rescan.C:
			if anyPathExists(paths) {
				return true, nil
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return anyPathExists(paths), nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				if anyPathExists(paths) {
					return true, nil
				}
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return anyPathExists(paths), nil
			}
		}
	}
}

func anyPathExists(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
