package repository

import (
	"context"
	"strings"
	"time"

	"readecho/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobRepository is the durable pre-generation queue. Claims are atomic:
// a conditional UPDATE of status pending -> processing guarantees a job is
// never handed to two workers.
type JobRepository interface {
	// Enqueue inserts the job if its target is not already queued. An
	// identical pending/processing/completed job is a no-op; a failed job is
	// reset to pending with its retry count cleared.
	Enqueue(ctx context.Context, job *model.PreGenerationJob) (*model.PreGenerationJob, error)
	// ClaimNext atomically claims the oldest job of the highest priority
	// tier present. Returns nil when the queue is empty.
	ClaimNext(ctx context.Context) (*model.PreGenerationJob, error)
	// Release puts a claimed job back to pending with an incremented retry
	// count, or marks it failed when retries are exhausted.
	Release(ctx context.Context, job *model.PreGenerationJob, cause error) error
	MarkCompleted(ctx context.Context, jobID string, actualCost float64) error
	MarkFailed(ctx context.Context, jobID string, message string) error
	// ReapStuck reclaims jobs left in processing longer than maxAge back to
	// pending. Crash-safety for workers that died mid-job.
	ReapStuck(ctx context.Context, maxAge time.Duration) (int64, error)
	GetByID(ctx context.Context, jobID string) (*model.PreGenerationJob, error)
	CountByBookAndStatus(ctx context.Context, bookID, status string) (int64, error)
	// CountActiveByBookAndMaxPriority counts pending/processing jobs for a
	// book at or above the given priority tier.
	CountActiveByBookAndMaxPriority(ctx context.Context, bookID string, maxPriority model.JobPriority) (int64, error)
	// TotalActualCost sums the recorded cost across all jobs, for the
	// budget ceiling check.
	TotalActualCost(ctx context.Context) (float64, error)

	// Book-level aggregate status.
	CreateBookStatus(ctx context.Context, status *model.BookPreGenerationStatus) error
	GetBookStatus(ctx context.Context, bookID string) (*model.BookPreGenerationStatus, error)
	AddBookProgress(ctx context.Context, bookID string, completed, failed int64, cost float64) error
	UpdateBookFlags(ctx context.Context, bookID string, popularDone, allDone bool, status string) error
}

// gormJobRepository is the GORM implementation.
type gormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a GORM-backed job repository.
func NewGormJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

func (r *gormJobRepository) Enqueue(ctx context.Context, job *model.PreGenerationJob) (*model.PreGenerationJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, nil
	}
	if !isDuplicateKey(err) {
		return nil, err
	}

	// Target already queued. Load it and only revive terminal failures.
	var existing model.PreGenerationJob
	loadErr := r.db.WithContext(ctx).
		Where("book_id = ? AND reading_level = ? AND chunk_index = ? AND provider = ? AND voice_id = ?",
			job.BookID, job.ReadingLevel, job.ChunkIndex, job.Provider, job.VoiceID).
		First(&existing).Error
	if loadErr != nil {
		return nil, loadErr
	}

	if existing.Status == model.JobStatusFailed {
		res := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
			Where("id = ? AND status = ?", existing.ID, model.JobStatusFailed).
			Updates(map[string]interface{}{
				"status":        model.JobStatusPending,
				"retry_count":   0,
				"error_message": "",
				"priority":      job.Priority,
				"started_at":    nil,
				"completed_at":  nil,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		existing.Status = model.JobStatusPending
		existing.RetryCount = 0
		existing.Priority = job.Priority
	}
	return &existing, nil
}

func (r *gormJobRepository) ClaimNext(ctx context.Context) (*model.PreGenerationJob, error) {
	// A candidate may be snatched by a concurrent worker between the SELECT
	// and the conditional UPDATE; on a lost race, pick the next candidate.
	for attempt := 0; attempt < 3; attempt++ {
		var job model.PreGenerationJob
		err := r.db.WithContext(ctx).
			Where("status = ?", model.JobStatusPending).
			Order("priority ASC, created_at ASC").
			First(&job).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}
			return nil, err
		}

		now := time.Now()
		res := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
			Where("id = ? AND status = ?", job.ID, model.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.Status = model.JobStatusProcessing
			job.StartedAt = &now
			return &job, nil
		}
	}
	return nil, nil
}

func (r *gormJobRepository) Release(ctx context.Context, job *model.PreGenerationJob, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if job.RetryCount >= job.MaxRetries {
		return r.MarkFailed(ctx, job.ID, msg)
	}
	return r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("id = ? AND status = ?", job.ID, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.JobStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": msg,
			"started_at":    nil,
		}).Error
}

func (r *gormJobRepository) MarkCompleted(ctx context.Context, jobID string, actualCost float64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"completed_at": now,
			"actual_cost":  actualCost,
		}).Error
}

func (r *gormJobRepository) MarkFailed(ctx context.Context, jobID string, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"completed_at":  now,
			"error_message": message,
		}).Error
}

func (r *gormJobRepository) ReapStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("status = ? AND started_at < ?", model.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.JobStatusPending,
			"started_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *gormJobRepository) GetByID(ctx context.Context, jobID string) (*model.PreGenerationJob, error) {
	var job model.PreGenerationJob
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *gormJobRepository) CountByBookAndStatus(ctx context.Context, bookID, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("book_id = ? AND status = ?", bookID, status).
		Count(&count).Error
	return count, err
}

func (r *gormJobRepository) CountActiveByBookAndMaxPriority(ctx context.Context, bookID string, maxPriority model.JobPriority) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Where("book_id = ? AND priority <= ? AND status IN ?",
			bookID, maxPriority, []string{model.JobStatusPending, model.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

func (r *gormJobRepository) TotalActualCost(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&model.PreGenerationJob{}).
		Select("COALESCE(SUM(actual_cost), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormJobRepository) CreateBookStatus(ctx context.Context, status *model.BookPreGenerationStatus) error {
	return r.db.WithContext(ctx).Save(status).Error
}

func (r *gormJobRepository) GetBookStatus(ctx context.Context, bookID string) (*model.BookPreGenerationStatus, error) {
	var status model.BookPreGenerationStatus
	err := r.db.WithContext(ctx).Where("book_id = ?", bookID).First(&status).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

func (r *gormJobRepository) AddBookProgress(ctx context.Context, bookID string, completed, failed int64, cost float64) error {
	return r.db.WithContext(ctx).Model(&model.BookPreGenerationStatus{}).
		Where("book_id = ?", bookID).
		Updates(map[string]interface{}{
			"completed_count": gorm.Expr("completed_count + ?", completed),
			"failed_count":    gorm.Expr("failed_count + ?", failed),
			"total_cost_usd":  gorm.Expr("total_cost_usd + ?", cost),
		}).Error
}

func (r *gormJobRepository) UpdateBookFlags(ctx context.Context, bookID string, popularDone, allDone bool, status string) error {
	updates := map[string]interface{}{
		"popular_done": popularDone,
		"all_done":     allDone,
	}
	if status != "" {
		updates["status"] = status
	}
	return r.db.WithContext(ctx).Model(&model.BookPreGenerationStatus{}).
		Where("book_id = ?", bookID).
		Updates(updates).Error
}

// isDuplicateKey recognizes a unique constraint violation from MySQL.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "Duplicate entry") || strings.Contains(s, "1062")
}
