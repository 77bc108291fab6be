// Package watcher keeps the index in sync with source trees: it watches
// for file changes, coalesces event bursts, and hands batches to a
// re-ingestion callback.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Operation classifies one file event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is one coalesced change.
type FileEvent struct {
	Path      string
	Operation Operation
}

// Handler receives coalesced event batches.
type Handler func(events []FileEvent)

// skippedDirs mirror the ingestion pipeline's built-in skip list.
var skippedDirs = map[string]bool{
	".git":         true,
	".idea":        true,
	".vscode":      true,
	"node_modules": true,
	"target":       true,
	"build":        true,
	"dist":         true,
	"vendor":       true,
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to coalesce events before emitting.
	DebounceWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 200 * time.Millisecond
	}
	return o
}

// Watcher bridges fsnotify to the debouncer.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	handler   Handler
	logger    *slog.Logger
}

func New(opts Options, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, lenserr.ValidationError("watcher requires a handler", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}
	opts = opts.withDefaults()
	return &Watcher{
		fs:        fs,
		debouncer: NewDebouncer(opts.DebounceWindow),
		handler:   handler,
		logger:    logger,
	}, nil
}

// Watch registers a directory tree. Skipped directories are not descended.
func (w *Watcher) Watch(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	go w.deliver(ctx)
	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			_ = w.fs.Close()
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if op, relevant := classify(event); relevant {
				w.debouncer.Add(FileEvent{Path: event.Name, Operation: op})
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.handler(batch)
		}
	}
}

func classify(event fsnotify.Event) (Operation, bool) {
	switch {
	case event.Has(fsnotify.Create):
		return OpCreate, true
	case event.Has(fsnotify.Write):
		return OpModify, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return OpDelete, true
	default:
		return 0, false
	}
}
