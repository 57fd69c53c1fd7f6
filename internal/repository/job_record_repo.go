package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/karaforge/karaforge/internal/models"
)

// jobRecordRepo implements JobRecordRepository using GORM.
type jobRecordRepo struct {
	db *gorm.DB
}

// NewJobRecordRepository creates a JobRecordRepository.
func NewJobRecordRepository(db *gorm.DB) *jobRecordRepo {
	return &jobRecordRepo{db: db}
}

// Create inserts a new job record.
func (r *jobRecordRepo) Create(ctx context.Context, record *models.JobRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating job record: %w", err)
	}
	return nil
}

// Update saves changes to an existing job record.
func (r *jobRecordRepo) Update(ctx context.Context, record *models.JobRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("updating job record: %w", err)
	}
	return nil
}

// GetByJobID retrieves a record by its external job id. Returns nil when
// not found.
func (r *jobRecordRepo) GetByJobID(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job record: %w", err)
	}
	return &record, nil
}

// List returns records newest-first with pagination and the total count.
func (r *jobRecordRepo) List(ctx context.Context, offset, limit int) ([]*models.JobRecord, int64, error) {
	var records []*models.JobRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.JobRecord{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting job records: %w", err)
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing job records: %w", err)
	}
	return records, total, nil
}

// ListSince returns records created at or after since, newest first, with
// pagination and the total count of matching rows.
func (r *jobRecordRepo) ListSince(ctx context.Context, since time.Time, offset, limit int) ([]*models.JobRecord, int64, error) {
	var records []*models.JobRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.JobRecord{}).Where("created_at >= ?", since)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting job records: %w", err)
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing job records: %w", err)
	}
	return records, total, nil
}

// ListByStatus returns records with the given status, newest first.
func (r *jobRecordRepo) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.JobRecord, error) {
	var records []*models.JobRecord
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing job records by status: %w", err)
	}
	return records, nil
}

// DeleteFinishedBefore removes finished records older than the given time.
func (r *jobRecordRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, before).
		Delete(&models.JobRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished job records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure jobRecordRepo implements JobRecordRepository at compile time.
var _ JobRecordRepository = (*jobRecordRepo)(nil)
