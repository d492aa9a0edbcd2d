package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"cdr.dev/slog/v3"
)

// Watch re-loads the config whenever the file changes and hands the result
// to onChange, until ctx is cancelled. The parent directory is watched, not
// the file itself, because saves replace the file via rename. A reload that
// fails to parse is logged and skipped; the previous configuration stays in
// effect.
func Watch(ctx context.Context, logger slog.Logger, onChange func(Config)) error {
	path, err := Path()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := Load()
			if err != nil {
				logger.Warn(ctx, "config reload failed, keeping previous", slog.Error(err))
				continue
			}
			logger.Info(ctx, "config reloaded")
			onChange(cfg)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; continue watching.
		}
	}
}
