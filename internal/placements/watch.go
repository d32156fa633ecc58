package placements

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle is how long the directory must stay quiet before a sync runs,
// so a file still being written is not picked up half way.
const watchSettle = 500 * time.Millisecond

// Watch runs Sync once and then again whenever files are created or renamed
// in opts.Dir, until ctx is done. Sync failures are logged and retried on the
// next change.
func Watch(ctx context.Context, store Store, opts SyncOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", opts.Dir, err)
	}

	run := func() {
		added, err := Sync(ctx, store, opts)
		if err != nil {
			logger.Error("sync failed", "dir", opts.Dir, "error", err)
			return
		}
		if len(added) > 0 {
			logger.Info("synced images", "added", len(added))
		}
	}
	run()

	settle := time.NewTimer(watchSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				settle.Reset(watchSettle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-settle.C:
			run()
		}
	}
}
