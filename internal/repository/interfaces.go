// Package repository provides data access for the job-history store.
package repository

import (
	"context"
	"time"

	"github.com/karaforge/karaforge/internal/models"
)

// JobRecordRepository stores and queries finished and running job rows.
type JobRecordRepository interface {
	Create(ctx context.Context, record *models.JobRecord) error
	Update(ctx context.Context, record *models.JobRecord) error
	GetByJobID(ctx context.Context, jobID string) (*models.JobRecord, error)
	List(ctx context.Context, offset, limit int) ([]*models.JobRecord, int64, error)
	ListSince(ctx context.Context, since time.Time, offset, limit int) ([]*models.JobRecord, int64, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.JobRecord, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
