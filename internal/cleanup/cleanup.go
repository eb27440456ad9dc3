package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fetchd/fetchd/internal/logctx"
)

const partialSuffix = ".tmp"

// DeleteStalePartials removes partial files under dir that are older than
// keepFor. Partials a live download still intends to resume are spared via
// the inUse callback.
func DeleteStalePartials(ctx context.Context, dir string, keepFor time.Duration, inUse func(path string) bool) error {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepFor)

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if entry.IsDir() || !strings.HasSuffix(path, partialSuffix) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.ModTime().After(cutoff) {
			return nil
		}

		if inUse != nil && inUse(path) {
			logger.Debug("keeping stale partial, still tracked", "file", path)

			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete stale partial", "file", path, "err", err)

			return err
		}

		logger.Info("deleted stale partial", "file", path)

		return nil
	})
}
