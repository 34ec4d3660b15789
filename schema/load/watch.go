package load

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syssam/modelkit/schema"
)

// ReloadFunc receives the entities of a directory after each change, or the
// error that prevented loading them.
type ReloadFunc func([]*schema.Entity, error)

// WatchOption configures Watch.
type WatchOption func(*watcher)

// WithDebounce sets the quiet period after the last change before the
// directory is reloaded. The default is 100ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *watcher) { w.debounce = d }
}

// WithLogger sets the logger of the watcher.
func WithLogger(l *slog.Logger) WatchOption {
	return func(w *watcher) { w.log = l }
}

type watcher struct {
	debounce time.Duration
	log      *slog.Logger
}

// Watch reloads the declarations of dir whenever a declaration file is
// written, created, renamed or removed, and passes the result to fn. It
// blocks until ctx is done.
//
// Watch is the reload hook of a process-wide registry: the callback builds a
// fresh graph from the entities and swaps it in. Descriptors of the previous
// graph are never mutated.
func Watch(ctx context.Context, dir string, fn ReloadFunc, opts ...WatchOption) error {
	w := &watcher{debounce: 100 * time.Millisecond, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isDeclaration(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			w.log.Debug("declaration changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "dir", dir, "error", err)
		case <-reload:
			reload = nil
			entities, err := Dir(ctx, dir)
			if err != nil {
				w.log.Error("reloading declarations", "dir", dir, "error", err)
			} else {
				w.log.Info("declarations reloaded", "dir", dir, "entities", len(entities))
			}
			fn(entities, err)
		}
	}
}
