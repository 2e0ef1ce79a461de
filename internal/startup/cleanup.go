// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// DefaultCleanupAge is the default maximum age for orphaned scratch
// directories.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedScratchDirs removes task scratch directories left
// behind by a crash or unclean shutdown. A directory is orphaned when
// its name parses as a task ULID, it is older than maxAge, and inUse
// does not claim it. inUse may be nil when no tasks can be running yet,
// such as during startup.
//
// Returns the number of directories removed.
func CleanupOrphanedScratchDirs(logger *slog.Logger, baseDir string, maxAge time.Duration, inUse func(id models.ULID) bool) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("scratch base directory does not exist, skipping cleanup",
			"path", baseDir)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read scratch directory for cleanup",
			"path", baseDir,
			"error", err)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id, err := models.ParseULID(entry.Name())
		if err != nil {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat scratch directory",
				"path", dirPath,
				"error", err)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent scratch directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second))
			continue
		}

		if inUse != nil && inUse(id) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned scratch directory",
				"path", dirPath,
				"error", err)
			continue
		}

		logger.Info("removed orphaned scratch directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second))
		removed++
	}

	return removed, nil
}
