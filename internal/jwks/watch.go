package jwks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile refreshes r whenever the key set file at path is written or
// replaced. It blocks until ctx is done. The parent directory is watched so
// that editors and tools that replace the file with a rename are observed.
func WatchFile(ctx context.Context, r *Resolver, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("jwks: watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("jwks: resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("jwks: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			r.log.DebugContext(ctx, "jwks.watch.change", slog.String("op", ev.Op.String()), slog.String("path", abs))
			// A failed reload keeps the previous key set.
			_ = r.Refresh(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "jwks.watch.error", slog.String("err", err.Error()))
		}
	}
}
