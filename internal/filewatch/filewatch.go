// Package filewatch reports edits to a single file.
//
// The parent directory is watched rather than the file itself: most editors
// save by writing a temporary file and renaming it over the original, which
// drops an inode-level watch. Events for other files in the directory are
// ignored and bursts are coalesced by a debounce timer.
package filewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before the
// callback fires.
const DefaultDebounce = 100 * time.Millisecond

// Watch calls onChange each time path is written or created, which covers a
// file renamed into place. Calls are at most once per debounce period. Watch
// blocks until ctx is cancelled and returns nil in that case.
//
// onChange runs on the watching goroutine; a slow callback delays the next
// notification but never loses it.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("filewatch: resolve %q: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filewatch: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("filewatch: watch %q: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("filewatch: event channel closed")
			}
			if filepath.Clean(ev.Name) != abs || !relevant(ev.Op) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("filewatch: error channel closed")
			}
			slog.Warn("filewatch: watcher error", "path", abs, "err", err)

		case <-timer.C:
			onChange()
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create)
}
