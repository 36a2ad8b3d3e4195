package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceTime coalesces the burst of events an editor produces on save
const DebounceTime = 500 * time.Millisecond

// Watch reloads the file at path whenever it changes and calls onChange with
// the validated result. A file that fails to load or validate is logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file with a rename
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	slog.Info("config: watching for changes", "path", target)

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(DebounceTime)
			} else {
				// A timer that fired while fire was nil still holds a tick
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(DebounceTime)
			}
			fire = debounce.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)

		case <-fire:
			fire = nil
			cfg, err := Load(target)
			if err != nil {
				slog.Error("config: ignoring invalid config change", "path", target, "error", err)
				continue
			}
			slog.Info("config: change detected", "path", target)
			onChange(cfg)
		}
	}
}
