package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karaforge/karaforge/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupPartialDownloads(t *testing.T) {
	writeAged := func(t *testing.T, path string, age time.Duration) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("partial"), 0644))
		ts := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	t.Run("removes old partial files", func(t *testing.T) {
		downloadsDir := t.TempDir()
		oldPart := filepath.Join(downloadsDir, "dQw4w9WgXcQ", "audio.webm.part")
		writeAged(t, oldPart, 2*time.Hour)

		count, err := CleanupPartialDownloads(newTestLogger(), downloadsDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldPart)
		assert.True(t, os.IsNotExist(err), "old partial file should be removed")
	})

	t.Run("preserves recent partial files", func(t *testing.T) {
		downloadsDir := t.TempDir()
		recentPart := filepath.Join(downloadsDir, "video.mp4.part")
		writeAged(t, recentPart, 30*time.Minute)

		count, err := CleanupPartialDownloads(newTestLogger(), downloadsDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentPart)
		assert.NoError(t, err, "recent partial file should be preserved")
	})

	t.Run("ignores completed downloads", func(t *testing.T) {
		downloadsDir := t.TempDir()
		finished := filepath.Join(downloadsDir, "dQw4w9WgXcQ", "video.mp4")
		writeAged(t, finished, 48*time.Hour)

		count, err := CleanupPartialDownloads(newTestLogger(), downloadsDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(finished)
		assert.NoError(t, err, "completed download should be preserved")
	})

	t.Run("handles non-existent directory gracefully", func(t *testing.T) {
		count, err := CleanupPartialDownloads(newTestLogger(), "/nonexistent/path/12345", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old fragments", func(t *testing.T) {
		downloadsDir := t.TempDir()
		names := []string{"a.webm.part", "a.webm.ytdl", "b.m4a.part"}
		for _, name := range names {
			writeAged(t, filepath.Join(downloadsDir, name), 2*time.Hour)
		}

		count, err := CleanupPartialDownloads(newTestLogger(), downloadsDir, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		for _, name := range names {
			_, err = os.Stat(filepath.Join(downloadsDir, name))
			assert.True(t, os.IsNotExist(err), "fragment %s should be removed", name)
		}
	})
}

type stubRecords struct {
	running []*models.JobRecord
	updated []*models.JobRecord
	listErr error
}

func (s *stubRecords) Create(ctx context.Context, record *models.JobRecord) error { return nil }

func (s *stubRecords) Update(ctx context.Context, record *models.JobRecord) error {
	s.updated = append(s.updated, record)
	return nil
}

func (s *stubRecords) GetByJobID(ctx context.Context, jobID string) (*models.JobRecord, error) {
	return nil, nil
}

func (s *stubRecords) List(ctx context.Context, offset, limit int) ([]*models.JobRecord, int64, error) {
	return nil, 0, nil
}

func (s *stubRecords) ListSince(ctx context.Context, since time.Time, offset, limit int) ([]*models.JobRecord, int64, error) {
	return nil, 0, nil
}

func (s *stubRecords) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.JobRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if status != models.JobStatusRunning {
		return nil, nil
	}
	return s.running, nil
}

func (s *stubRecords) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func TestRecoverStaleJobs(t *testing.T) {
	t.Run("marks running jobs as failed", func(t *testing.T) {
		started := models.Now()
		records := &stubRecords{running: []*models.JobRecord{
			{JobID: "job-1", Status: models.JobStatusRunning, StartedAt: &started},
			{JobID: "job-2", Status: models.JobStatusRunning, StartedAt: &started},
		}}

		recovered, err := RecoverStaleJobs(context.Background(), newTestLogger(), records)
		require.NoError(t, err)

		assert.Equal(t, 2, recovered)
		require.Len(t, records.updated, 2)
		for _, rec := range records.updated {
			assert.Equal(t, models.JobStatusFailed, rec.Status)
			assert.Equal(t, "interrupted by server restart", rec.Error)
			assert.NotNil(t, rec.CompletedAt)
		}
	})

	t.Run("no running jobs", func(t *testing.T) {
		records := &stubRecords{}

		recovered, err := RecoverStaleJobs(context.Background(), newTestLogger(), records)
		require.NoError(t, err)

		assert.Equal(t, 0, recovered)
		assert.Empty(t, records.updated)
	})

	t.Run("propagates list errors", func(t *testing.T) {
		records := &stubRecords{listErr: assert.AnError}

		_, err := RecoverStaleJobs(context.Background(), newTestLogger(), records)
		assert.ErrorIs(t, err, assert.AnError)
	})
}
