package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/timed-devices/internal/logger"
)

// reloadDelay collapses the burst of events a single save produces.
const reloadDelay = 200 * time.Millisecond

// Watch calls fn with the reloaded configuration every time the file at path
// changes, until ctx is done. A file that fails to load or validate is logged
// and skipped, fn keeps running on the last good configuration.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	if path == "" {
		path = DefaultConfigFilename
	}

	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = w.Close()
	}()

	// Watch the directory: editors replace files rather than write them in place.
	if err = w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	ctx = logger.WithKV(logger.WithName(ctx, "config-watch"), "path", path)

	var (
		pending = time.NewTimer(reloadDelay)
		armed   = false
	)

	pending.Stop()

	for {
		select {
		case <-ctx.Done():
			pending.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			pending.Reset(reloadDelay)
			armed = true
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			logger.WarnKV(ctx, "Watcher error", "error", err)
		case <-pending.C:
			if !armed {
				continue
			}

			armed = false

			cfg, err := Load(path)
			if err != nil {
				logger.WarnKV(ctx, "Configuration reload failed, keeping the previous one", "error", err)
				continue
			}

			logger.Info(ctx, "Configuration reloaded")
			fn(cfg)
		}
	}
}
