// Package watch reports changes made to the store file by anything other
// than the store itself.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ASHISH26940/recordstore/internal/persistence"
	"github.com/fsnotify/fsnotify"
	"github.com/kjk/common/u"
)

// Source is the store being watched.
type Source interface {
	Path() string
	// Digest returns the SHA-1 of the content the store last wrote.
	Digest() string
}

// Watcher logs a warning whenever the store file's content stops matching
// what the store wrote.
type Watcher struct {
	src      Source
	logger   *slog.Logger
	debounce *u.Debouncer
	onChange func(external bool)
}

// New creates a Watcher. onChange, if not nil, is called after every check.
func New(src Source, logger *slog.Logger, onChange func(external bool)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		src:      src,
		logger:   logger,
		debounce: &u.Debouncer{Timeout: 100 * time.Millisecond},
		onChange: onChange,
	}
}

// Start watches the directory holding the store file until ctx is done. The
// directory is watched rather than the file because saves replace the file.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	path, err := filepath.Abs(w.src.Path())
	if err != nil {
		_ = fw.Close()
		return err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return err
	}
	go func() {
		defer func() { _ = fw.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					w.debounce.Debounce(func() { w.check(ctx, path) })
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.WarnContext(ctx, "Error watching store file", "err", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) check(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	external := false
	switch {
	case err != nil:
		external = true
		w.logger.WarnContext(ctx, "Store file is no longer readable", "path", path, "err", err)
	case persistence.Digest(data) != w.src.Digest():
		external = true
		w.logger.WarnContext(ctx, "Store file modified outside of the service", "path", path)
	}
	if w.onChange != nil {
		w.onChange(external)
	}
}
