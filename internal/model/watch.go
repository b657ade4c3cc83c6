package model

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// DefaultDebounce is how long Watch waits for edits to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watch calls fn whenever a declaration file in dir is written, created,
// removed or renamed, until ctx is done. Bursts of events within debounce
// trigger a single call. Errors from fn are logged and watching continues.
func Watch(ctx context.Context, dir string, debounce time.Duration, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return alerr.Wrap(alerr.ErrInternal, err, "failed to start file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return alerr.Wrap(alerr.ErrInvalidDeclaration, err, "failed to watch models directory").
			With("dir", dir)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	slog.Info("watching models", "dir", dir)

	// Timers are unbuffered since Go 1.23; Stop and Reset leave no stale tick.
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsDeclarationFile(event.Name) ||
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("model change", "file", event.Name, "op", event.Op.String())
			timer.Reset(debounce)
		case <-timer.C:
			if err := fn(); err != nil {
				slog.Warn("rebuild after model change failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}
