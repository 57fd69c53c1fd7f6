package repository

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karaforge/karaforge/internal/config"
	"github.com/karaforge/karaforge/internal/database"
	"github.com/karaforge/karaforge/internal/models"
)

func newRepo(t *testing.T) JobRecordRepository {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewJobRecordRepository(db.DB)
}

func record(jobID string) *models.JobRecord {
	return &models.JobRecord{
		JobID:   jobID,
		Kind:    models.SourceURL,
		Source:  "https://example.com/watch?v=" + jobID,
		VideoID: "vid_" + jobID,
		Title:   "Track " + jobID,
		Status:  models.JobStatusRunning,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("job-1")
	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.ID.IsZero(), "primary key assigned on create")
	require.NotNil(t, rec.StartedAt, "start time defaulted")

	got, err := repo.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Track job-1", got.Title)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestCreate_RequiresJobID(t *testing.T) {
	repo := newRepo(t)
	err := repo.Create(context.Background(), &models.JobRecord{})
	assert.ErrorIs(t, err, models.ErrJobIDRequired)
}

func TestGetByJobID_Missing(t *testing.T) {
	repo := newRepo(t)
	got, err := repo.GetByJobID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate_MarkCompleted(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("job-2")
	require.NoError(t, repo.Create(ctx, rec))

	rec.MarkCompleted("processed/vid_job-2/vid_job-2.mp4")
	require.NoError(t, repo.Update(ctx, rec))

	got, err := repo.GetByJobID(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "processed/vid_job-2/vid_job-2.mp4", got.ProcessedPath)
}

func TestList_PaginationAndOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, record(id)))
		time.Sleep(5 * time.Millisecond)
	}

	records, total, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].JobID, "newest first")

	records, _, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].JobID)
}

func TestListSince(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	old := record("old")
	require.NoError(t, repo.Create(ctx, old))
	old.CreatedAt = time.Now().Add(-72 * time.Hour)
	require.NoError(t, repo.Update(ctx, old))

	recent := record("recent")
	require.NoError(t, repo.Create(ctx, recent))

	records, total, err := repo.ListSince(ctx, time.Now().Add(-24*time.Hour), 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "recent", records[0].JobID)

	records, total, err = repo.ListSince(ctx, time.Now().Add(-time.Hour*24*30), 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, "recent", records[0].JobID, "newest first")
}

func TestListByStatus(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	running := record("r1")
	require.NoError(t, repo.Create(ctx, running))

	failed := record("f1")
	require.NoError(t, repo.Create(ctx, failed))
	failed.MarkFailed(errors.New("demucs timed out"))
	require.NoError(t, repo.Update(ctx, failed))

	got, err := repo.ListByStatus(ctx, models.JobStatusFailed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].JobID)
	assert.Equal(t, "demucs timed out", got[0].Error)
}

func TestDeleteFinishedBefore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	old := record("old")
	require.NoError(t, repo.Create(ctx, old))
	old.MarkCompleted("processed/x/x.mp4")
	require.NoError(t, repo.Update(ctx, old))

	active := record("active")
	require.NoError(t, repo.Create(ctx, active))

	deleted, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted, "running records survive cleanup")

	got, err := repo.GetByJobID(ctx, "active")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
