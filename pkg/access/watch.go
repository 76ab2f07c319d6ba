package access

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// seedDebounce coalesces the burst of events an editor produces for one save
const seedDebounce = 250 * time.Millisecond

// WatchSeedFile re-applies the seed file at path whenever it changes, until ctx
// is done. The parent directory is watched so files replaced by rename are
// picked up. Reload failures are logged and the watch continues.
func (c *Controller) WatchSeedFile(ctx context.Context, path string, grantedBy int64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve seed path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger := c.logger.WithField("seed_file", abs)
	logger.Info("Watching seed file")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(seedDebounce)
			}

		case <-pending:
			pending = nil
			doc, err := LoadSeedFile(abs)
			if err != nil {
				logger.WithError(err).Warn("Failed to reload seed file")
				continue
			}
			report, err := c.ApplySeed(ctx, doc, grantedBy)
			if err != nil {
				logger.WithError(err).Error("Failed to apply reloaded seed file")
				continue
			}
			logger.WithField("changed", report.Changed()).Info("Seed file reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Seed watcher error")
		}
	}
}
