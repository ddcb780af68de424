package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/trailhead/trailimport/internal/domain"
)

// JobRepository persists ImportJob and BulkImportJob rows. Counter updates
// are single UPDATE statements with column arithmetic so concurrent writers
// never lose increments.
type JobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// CreateJob inserts an import job.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	return classifyError(r.db.WithContext(ctx).Create(job).Error)
}

// CreateBulkJob inserts a bulk import job.
func (r *JobRepository) CreateBulkJob(ctx context.Context, job *domain.BulkImportJob) error {
	return classifyError(r.db.WithContext(ctx).Create(job).Error)
}

// GetJob retrieves an import job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, classifyError(err)
	}
	return &job, nil
}

// GetBulkJob retrieves a bulk import job by ID.
func (r *JobRepository) GetBulkJob(ctx context.Context, id string) (*domain.BulkImportJob, error) {
	var job domain.BulkImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, classifyError(err)
	}
	return &job, nil
}

// ListChildJobs returns the import jobs of a bulk job, oldest first.
func (r *JobRepository) ListChildJobs(ctx context.Context, bulkID string) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Where("bulk_job_id = ?", bulkID).
		Order("started_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, classifyError(err)
	}
	return jobs, nil
}

// ListRecentJobs returns the newest import jobs.
func (r *JobRepository) ListRecentJobs(ctx context.Context, limit int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, classifyError(err)
	}
	return jobs, nil
}

// IncrementJob adds delta to the counters of a non-terminal job. It
// reports false when the job is missing or already terminal.
func (r *JobRepository) IncrementJob(ctx context.Context, id string, d domain.JobDelta) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"trails_processed": gorm.Expr("trails_processed + ?", d.Processed),
			"trails_added":     gorm.Expr("trails_added + ?", d.Added),
			"trails_updated":   gorm.Expr("trails_updated + ?", d.Updated),
			"trails_failed":    gorm.Expr("trails_failed + ?", d.Failed),
			"updated_at":       r.now().UTC(),
		})
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetJobRequested records how many trails a job expects to process.
func (r *JobRepository) SetJobRequested(ctx context.Context, id string, requested int) error {
	return classifyError(r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"trails_requested": requested,
			"updated_at":       r.now().UTC(),
		}).Error)
}

// FinishJob moves a non-terminal job to status. The conditional update makes
// the terminal transition happen at most once; it reports whether this call
// performed it.
func (r *JobRepository) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string) (bool, error) {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FinishBulkJob moves a non-terminal bulk job to status directly. Used when a
// run is abandoned before every child job exists, so recomputing from the
// children would never reach a terminal status.
func (r *JobRepository) FinishBulkJob(ctx context.Context, id string, status domain.JobStatus) (bool, error) {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.BulkImportJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecomputeBulkJob rebuilds a bulk job's counters and status from its
// children. A bulk job is terminal once every child is: completed if any
// child completed, error otherwise.
func (r *JobRepository) RecomputeBulkJob(ctx context.Context, bulkID string) (*domain.BulkImportJob, error) {
	var bulk domain.BulkImportJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&bulk, "id = ?", bulkID).Error; err != nil {
			return err
		}

		var agg struct {
			Processed int
			Added     int
			Updated   int
			Failed    int
			Children  int
			Active    int
			Completed int
		}
		if err := tx.Model(&domain.ImportJob{}).
			Select(`COALESCE(SUM(trails_processed), 0) AS processed,
				COALESCE(SUM(trails_added), 0) AS added,
				COALESCE(SUM(trails_updated), 0) AS updated,
				COALESCE(SUM(trails_failed), 0) AS failed,
				COUNT(*) AS children,
				COALESCE(SUM(CASE WHEN status IN ? THEN 1 ELSE 0 END), 0) AS active,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed`,
				domain.ActiveStatuses, domain.JobStatusCompleted).
			Where("bulk_job_id = ?", bulkID).
			Scan(&agg).Error; err != nil {
			return err
		}

		now := r.now().UTC()
		updates := map[string]interface{}{
			"trails_processed": agg.Processed,
			"trails_added":     agg.Added,
			"trails_updated":   agg.Updated,
			"trails_failed":    agg.Failed,
			"updated_at":       now,
		}
		if !bulk.Status.Terminal() && agg.Children > 0 && agg.Active == 0 {
			status := domain.JobStatusError
			if agg.Completed > 0 {
				status = domain.JobStatusCompleted
			}
			updates["status"] = status
			updates["completed_at"] = now
		}

		if err := tx.Model(&domain.BulkImportJob{}).Where("id = ?", bulkID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&bulk, "id = ?", bulkID).Error
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return &bulk, nil
}

// FailStaleJobs marks jobs that stopped reporting progress before cutoff as
// failed, so a crashed run does not block its bulk job forever.
func (r *JobRepository) FailStaleJobs(ctx context.Context, cutoff time.Time, reason string) ([]domain.ImportJob, error) {
	var stale []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", domain.ActiveStatuses, cutoff.UTC()).
		Find(&stale).Error; err != nil {
		return nil, classifyError(err)
	}

	failed := stale[:0]
	for _, job := range stale {
		ok, err := r.FinishJob(ctx, job.ID, domain.JobStatusError, reason)
		if err != nil {
			return failed, err
		}
		if ok {
			failed = append(failed, job)
		}
	}
	return failed, nil
}
