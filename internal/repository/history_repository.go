package repository

import (
	"context"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"gorm.io/gorm"
)

// GormHistoryRepository is a GORM implementation of HistoryRepository
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &GormHistoryRepository{db: db}
}

// Create appends a history entry
func (r *GormHistoryRepository) Create(ctx context.Context, entry *models.TaskHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByTaskID returns the history of a task, newest first
func (r *GormHistoryRepository) ListByTaskID(ctx context.Context, taskID string, limit int) ([]models.TaskHistory, error) {
	var entries []models.TaskHistory
	query := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
