// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/repository"
)

// Partial download suffixes left behind by an interrupted yt-dlp run.
var partialSuffixes = []string{".part", ".ytdl", ".temp.mp4", ".temp.webm"}

// DefaultCleanupAge is the default maximum age for orphaned partial downloads (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupPartialDownloads removes partial download artifacts that are older
// than the specified maxAge. It looks for files with known in-progress
// suffixes (".part", ".ytdl", ...) anywhere under the downloads directory.
//
// Returns the number of files removed and any error encountered.
func CleanupPartialDownloads(logger *slog.Logger, downloadsDir string, maxAge time.Duration) (int, error) {
	// Check if the downloads directory exists
	if _, err := os.Stat(downloadsDir); os.IsNotExist(err) {
		logger.Debug("downloads directory does not exist, skipping cleanup",
			"path", downloadsDir,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(downloadsDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			logger.Warn("failed to visit path during cleanup",
				"path", path,
				"error", err,
			)
			return nil
		}
		if entry.IsDir() || !isPartialDownload(entry.Name()) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info",
				"path", path,
				"error", err,
			)
			return nil
		}

		// A fresh partial file may belong to a download in flight
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent partial download",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove partial download",
				"path", path,
				"error", err,
			)
			return nil
		}

		logger.Info("removed orphaned partial download",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
		return nil
	})
	if err != nil {
		logger.Error("failed to walk downloads directory for cleanup",
			"path", downloadsDir,
			"error", err,
		)
		return removed, err
	}

	return removed, nil
}

// isPartialDownload reports whether name carries a known in-progress suffix.
func isPartialDownload(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// RecoverStaleJobs resets any job records stuck in "running" status to
// "failed". This handles the case where the server crashed or was restarted
// while a job pipeline was in progress. Without this recovery, jobs would
// remain permanently stuck in "running" status in the database since the
// in-memory pipeline state is lost on restart.
//
// Returns the number of jobs recovered and any error encountered.
func RecoverStaleJobs(ctx context.Context, logger *slog.Logger, records repository.JobRecordRepository) (int, error) {
	stale, err := records.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		logger.Error("failed to list running jobs for stale status recovery",
			"error", err,
		)
		return 0, err
	}

	var recovered int
	for _, rec := range stale {
		logger.Warn("recovering stale job status",
			"job_id", rec.JobID,
			"title", rec.Title,
		)

		rec.MarkFailed(errors.New("interrupted by server restart"))
		if err := records.Update(ctx, rec); err != nil {
			logger.Error("failed to recover stale job status",
				"job_id", rec.JobID,
				"error", err,
			)
			continue
		}

		recovered++
	}

	return recovered, nil
}
