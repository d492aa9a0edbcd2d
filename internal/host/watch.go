package host

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"cdr.dev/slog/v3"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

// defaultIgnores are always skipped by the workspace watcher, on top of
// whatever the workspace's .gitignore lists.
var defaultIgnores = []string{
	".git",
	"node_modules",
	"vendor",
	"*.swp",
	"*.tmp",
	"*~",
	".#*",
}

// Watch runs a recursive filesystem watcher on workDir until ctx is
// cancelled, turning every write to a non-ignored file into a coarse
// activity pulse: open, focus, and an edit with no line information. It is
// a fallback for editors that cannot stream real events; time still
// accrues through ticks, only line and keystroke counts stay at zero.
func Watch(ctx context.Context, logger slog.Logger, workDir string, sink Sink) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	patterns := loadIgnorePatterns(workDir)

	// Walk the tree and watch every non-ignored subdirectory.
	if err := filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != workDir && isIgnored(workDir, path, patterns) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	}); err != nil {
		return err
	}
	logger.Info(ctx, "watching workspace", slog.F("dir", workDir))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if isIgnored(workDir, event.Name, patterns) {
				continue
			}

			// A new directory joins the watch set instead of pulsing.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Has(fsnotify.Create) {
					_ = watcher.Add(event.Name)
				}
				continue
			}

			language := LanguageForPath(event.Name)
			sink.Deliver(tracker.Event{Kind: tracker.EventOpen, File: event.Name, Language: language})
			sink.Deliver(tracker.Event{Kind: tracker.EventFocus, File: event.Name})
			sink.Deliver(tracker.Event{Kind: tracker.EventEdit, File: event.Name})

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; continue watching.
		}
	}
}

// isIgnored reports whether path matches any pattern, tried against the
// base name, the workspace-relative path, and the full path.
func isIgnored(workDir, path string, patterns []string) bool {
	rel := path
	if r, err := filepath.Rel(workDir, path); err == nil {
		rel = r
	}
	base := filepath.Base(path)

	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// loadIgnorePatterns merges the built-in ignores with the workspace's
// .gitignore, when present.
func loadIgnorePatterns(workDir string) []string {
	patterns := make([]string, len(defaultIgnores))
	copy(patterns, defaultIgnores)

	extra, err := readPatternFile(filepath.Join(workDir, ".gitignore"))
	if err != nil {
		return patterns
	}
	return append(patterns, extra...)
}

// readPatternFile reads a gitignore-style file and returns non-empty,
// non-comment lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"))
	}
	return patterns, scanner.Err()
}
