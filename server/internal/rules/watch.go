package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle is how long the events file must stay quiet before a reload.
// Editors typically emit several events per save.
var watchSettle = 250 * time.Millisecond

// Watch reloads r after its events file changes, until ctx is cancelled.
// Bursts of file events within watchSettle collapse into one reload.
//
// The parent directory is watched rather than the file, so saves that
// replace the file by rename are seen. onReload, if non-nil, receives the
// result of every reload attempt. A failed reload keeps the previous
// configuration.
func (r *Registry) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir, name := filepath.Split(filepath.Clean(r.path))
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	wait := watchSettle
	slog.Info("rules: watching for changes", "path", r.path, "settle", wait)

	settle := time.NewTimer(wait)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			settle.Reset(wait)

		case <-settle.C:
			err := r.Reload()
			if err != nil {
				slog.Error("rules: reload failed, keeping previous config", "path", r.path, "err", err)
			}
			if onReload != nil {
				onReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("rules: watcher error", "err", err)
		}
	}
}
