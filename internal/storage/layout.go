package storage

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
)

// Layout is the on-disk shape of the working tree:
//
//	downloads/<video_id>/   source video, extracted audio, uploads
//	processed/<video_id>/   muxed output, subtitle file, and the cached
//	                        separation, transcription, and analysis
//	                        artifacts, all reachable over the static mount
type Layout struct {
	downloads *Sandbox
	processed *Sandbox
	logger    *slog.Logger
}

// NewLayout creates the sandboxed roots under the given directories.
func NewLayout(downloadsDir, processedDir string, logger *slog.Logger) (*Layout, error) {
	downloads, err := NewSandbox(downloadsDir)
	if err != nil {
		return nil, fmt.Errorf("downloads root: %w", err)
	}
	processed, err := NewSandbox(processedDir)
	if err != nil {
		return nil, fmt.Errorf("processed root: %w", err)
	}
	return &Layout{
		downloads: downloads,
		processed: processed,
		logger:    logger.With("component", "storage"),
	}, nil
}

// DownloadsDir returns the absolute downloads root.
func (l *Layout) DownloadsDir() string { return l.downloads.BaseDir() }

// ProcessedDir returns the absolute processed root.
func (l *Layout) ProcessedDir() string { return l.processed.BaseDir() }

// VideoDownloadDir returns the absolute per-video downloads directory,
// creating it.
func (l *Layout) VideoDownloadDir(videoID string) (string, error) {
	if err := l.downloads.MkdirAll(videoID); err != nil {
		return "", err
	}
	return l.downloads.ResolvePath(videoID)
}

// VideoProcessedDir returns the absolute per-video processed directory,
// creating it.
func (l *Layout) VideoProcessedDir(videoID string) (string, error) {
	if err := l.processed.MkdirAll(videoID); err != nil {
		return "", err
	}
	return l.processed.ResolvePath(videoID)
}

// ProcessedURI returns the public URI path for a processed artifact, the
// form stored in job results and served by the HTTP static mount.
func (l *Layout) ProcessedURI(videoID, filename string) string {
	return path.Join("processed", videoID, filename)
}

// ProcessedFile resolves a processed artifact to an absolute path.
func (l *Layout) ProcessedFile(videoID, filename string) (string, error) {
	return l.processed.ResolvePath(filepath.Join(videoID, filename))
}

// PublishProcessed moves a finished artifact into the processed tree and
// returns its public URI.
func (l *Layout) PublishProcessed(srcAbsPath, videoID, filename string) (string, error) {
	if err := l.processed.AtomicPublish(srcAbsPath, filepath.Join(videoID, filename)); err != nil {
		return "", err
	}
	return l.ProcessedURI(videoID, filename), nil
}

// OutputVideoName returns the published karaoke video filename for a
// video.
func OutputVideoName(videoID string) string { return videoID + "_karaoke.mp4" }

// SubtitleName returns the published subtitle filename for a video.
func SubtitleName(videoID string) string { return videoID + ".ass" }

// ProcessedURIFor converts an absolute path inside the processed tree to
// its public URI, or returns false when the path lies outside it.
func (l *Layout) ProcessedURIFor(absPath string) (string, bool) {
	rel, err := filepath.Rel(l.processed.BaseDir(), absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return path.Join("processed", filepath.ToSlash(rel)), true
}

// CleanupFailedJob removes the transient artifacts of a failed job: the
// download directory and the published output files. Cached separation
// and transcription artifacts in the processed tree are kept since they
// stay valid across retries.
func (l *Layout) CleanupFailedJob(videoID string) {
	if videoID == "" {
		l.logger.Warn("skipping failure cleanup, video id never determined")
		return
	}
	if err := l.downloads.RemoveAll(videoID); err != nil {
		l.logger.Warn("removing download directory failed", "video_id", videoID, "error", err)
	}
	for _, name := range []string{OutputVideoName(videoID), SubtitleName(videoID)} {
		if err := l.processed.Remove(filepath.Join(videoID, name)); err != nil {
			l.logger.Warn("removing partial output failed", "video_id", videoID, "file", name, "error", err)
		}
	}
	l.logger.Info("cleaned up failed job artifacts", "video_id", videoID)
}
