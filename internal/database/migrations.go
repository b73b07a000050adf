package database

import (
	"fmt"
	"log/slog"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"gorm.io/gorm"
)

type tableIndex struct {
	model   any
	table   string
	name    string
	columns string
}

// taskIndexes backs the hierarchy walks, the listing filters and the history reads
var taskIndexes = []tableIndex{
	{&models.Task{}, "tasks", "idx_tasks_parent_id", "parent_id"},
	{&models.Task{}, "tasks", "idx_tasks_status", "status"},
	{&models.Task{}, "tasks", "idx_tasks_priority", "priority"},
	{&models.Task{}, "tasks", "idx_tasks_due_date", "due_date"},
	{&models.Task{}, "tasks", "idx_tasks_created_at", "created_at"},
	{&models.Task{}, "tasks", "idx_tasks_next_occurrence", "next_occurrence"},
	{&models.TaskHistory{}, "task_histories", "idx_task_histories_task_id_created_at", "task_id, created_at"},
}

// AddIndexes adds performance-critical indexes to the database
func AddIndexes(db *gorm.DB, log *slog.Logger) error {
	migrator := db.Migrator()

	for _, idx := range taskIndexes {
		if migrator.HasIndex(idx.model, idx.name) {
			log.Debug("index already exists, skipping", "index", idx.name)
			continue
		}

		sql := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}

		log.Info("created index", "index", idx.name, "table", idx.table, "columns", idx.columns)
	}

	return nil
}
