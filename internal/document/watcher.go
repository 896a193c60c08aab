package document

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/scrollsync/internal/filewatch"
)

// Watcher keeps the latest valid version of a document file. A reload that
// fails to parse is logged and the previous version stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(old, new *Document)

	current atomic.Pointer[Document]

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after a file event before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher loads the document at path and starts watching it. onChange,
// if non-nil, is called with the previous and new versions after every
// reload that changes the text.
func NewWatcher(path string, onChange func(old, new *Document), opts ...WatcherOption) (*Watcher, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		debounce: filewatch.DefaultDebounce,
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.current.Store(doc)

	go func() {
		defer close(w.done)
		if err := filewatch.Watch(ctx, path, w.debounce, w.reload); err != nil {
			slog.Error("document watcher stopped", "path", path, "err", err)
		}
	}()
	return w, nil
}

// Current returns the most recently loaded valid document.
func (w *Watcher) Current() *Document {
	return w.current.Load()
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Watcher) reload() {
	doc, err := Load(w.path)
	if err != nil {
		slog.Warn("document watcher: reload failed, keeping previous version", "path", w.path, "err", err)
		return
	}
	old := w.current.Load()
	if old != nil && old.Hash == doc.Hash {
		return
	}
	w.current.Store(doc)
	slog.Info("document reloaded", "path", w.path, "title", doc.Title, "lines", doc.Len(), "hash", shortHash(doc.Hash))
	if w.onChange != nil {
		w.onChange(old, doc)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
