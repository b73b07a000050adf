package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/database"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/utils"
	"gorm.io/gorm"
)

const priorityRankExpr = "CASE tasks.priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'urgent' THEN 3 ELSE 4 END"

var sortColumns = map[string]string{
	SortByCreatedAt:      "tasks.created_at",
	SortByUpdatedAt:      "tasks.updated_at",
	SortByDueDate:        "tasks.due_date",
	SortByStartDate:      "tasks.start_date",
	SortByNextOccurrence: "tasks.next_occurrence",
	SortByTitle:          "tasks.title",
	SortByStatus:         "tasks.status",
	SortByPriority:       priorityRankExpr,
	SortByProgress:       "tasks.progress",
	SortByLevel:          "tasks.level",
}

// taskRow carries the window-function total alongside each listed task.
type taskRow struct {
	models.Task
	TotalCount int64 `gorm:"column:total_count"`
}

// GormTaskRepository is a GORM implementation of TaskRepository
type GormTaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &GormTaskRepository{db: db}
}

// Create creates a new task
func (r *GormTaskRepository) Create(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// FindByID finds a task by ID
func (r *GormTaskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindChildren returns the direct children of a task
func (r *GormTaskRepository) FindChildren(ctx context.Context, parentID string) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

// FindChildIDs returns the IDs of all direct children of the given parents
func (r *GormTaskRepository) FindChildIDs(ctx context.Context, parentIDs []string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("parent_id IN ?", parentIDs).
		Pluck("id", &ids).Error
	return ids, err
}

// List retrieves tasks with filtering and pagination. Rows and the total
// come from the same statement through COUNT(*) OVER().
func (r *GormTaskRepository) List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error) {
	params := utils.NormalizePagination(filter.Page, filter.PageSize)

	var rows []taskRow
	err := r.filtered(ctx, filter).
		Select("tasks.*, COUNT(*) OVER() AS total_count").
		Order(orderClause(filter)).
		Scopes(database.Paginate(params)).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	if len(rows) == 0 {
		if params.Page == 1 {
			return []models.Task{}, 0, nil
		}
		// Past the last page the window total is unavailable.
		var total int64
		if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
			return nil, 0, err
		}
		return []models.Task{}, total, nil
	}

	tasks := make([]models.Task, len(rows))
	for i, row := range rows {
		tasks[i] = row.Task
	}

	return tasks, rows[0].TotalCount, nil
}

// filtered builds the WHERE part of a listing query
func (r *GormTaskRepository) filtered(ctx context.Context, filter TaskFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Task{})

	if !filter.IncludeArchived {
		query = query.Scopes(notArchived)
	}

	if len(filter.Statuses) > 0 {
		query = query.Where("tasks.status IN ?", filter.Statuses)
	} else if filter.Status != nil {
		query = query.Where("tasks.status = ?", *filter.Status)
	}

	if len(filter.Priorities) > 0 {
		query = query.Where("tasks.priority IN ?", filter.Priorities)
	} else if filter.Priority != nil {
		query = query.Where("tasks.priority = ?", *filter.Priority)
	}

	if filter.Recurrence != nil {
		query = query.Where("tasks.recurrence = ?", *filter.Recurrence)
	}
	if filter.RootOnly {
		query = query.Where("(tasks.parent_id IS NULL OR tasks.parent_id = '')")
	}
	if filter.OverdueOnly {
		now := filter.Now
		if now.IsZero() {
			now = time.Now()
		}
		query = query.Where("tasks.due_date < ? AND tasks.status <> ?", now, models.TaskStatusCompleted)
	}
	if filter.ParentID != nil {
		query = query.Where("tasks.parent_id = ?", *filter.ParentID)
	}
	if len(filter.Tags) > 0 {
		query = withTags(query, filter.Tags)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("(LOWER(tasks.title) LIKE ? OR LOWER(tasks.description) LIKE ?)", pattern, pattern)
	}
	if filter.ProgressMin != nil {
		query = query.Where("tasks.progress >= ?", *filter.ProgressMin)
	}
	if filter.ProgressMax != nil {
		query = query.Where("tasks.progress <= ?", *filter.ProgressMax)
	}
	if filter.DueDateFrom != nil {
		query = query.Where("tasks.due_date >= ?", *filter.DueDateFrom)
	}
	if filter.DueDateTo != nil {
		query = query.Where("tasks.due_date <= ?", *filter.DueDateTo)
	}

	return query
}

// withTags requires every tag to be present in the JSON tags column
func withTags(query *gorm.DB, tags []string) *gorm.DB {
	switch query.Dialector.Name() {
	case "postgres":
		payload, _ := json.Marshal(tags)
		return query.Where("tasks.tags::jsonb @> ?::jsonb", string(payload))
	case "mysql":
		payload, _ := json.Marshal(tags)
		return query.Where("JSON_CONTAINS(tasks.tags, ?)", string(payload))
	default:
		for _, tag := range tags {
			query = query.Where("EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value = ?)", tag)
		}
		return query
	}
}

func orderClause(filter TaskFilter) string {
	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = sortColumns[SortByCreatedAt]
	}

	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, SortAsc) {
		direction = "ASC"
	}

	return column + " " + direction + ", tasks.id " + direction
}

func notArchived(db *gorm.DB) *gorm.DB {
	return db.Where("tasks.status <> ? AND tasks.archived_at IS NULL", models.TaskStatusArchived)
}

// Update saves every column of a task
func (r *GormTaskRepository) Update(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

// SetLevelForChildren sets the level of every direct child of parentIDs
func (r *GormTaskRepository) SetLevelForChildren(ctx context.Context, parentIDs []string, level int) error {
	if len(parentIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("parent_id IN ?", parentIDs).
		Update("level", level).Error
}

// DeleteByIDs hard deletes tasks together with their history
func (r *GormTaskRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id IN ?", ids).Delete(&models.TaskHistory{}).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).Delete(&models.Task{}).Error
	})
}

// FindRecurringBetween returns recurring tasks with a next occurrence in [from, to]
func (r *GormTaskRepository) FindRecurringBetween(ctx context.Context, from, to time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Scopes(notArchived).
		Where("tasks.recurrence <> ?", models.RecurrenceNone).
		Where("tasks.next_occurrence >= ? AND tasks.next_occurrence <= ?", from, to).
		Order("tasks.next_occurrence ASC, tasks.id ASC").
		Find(&tasks).Error
	return tasks, err
}

// FindRecurringDue returns recurring tasks whose next occurrence has passed
func (r *GormTaskRepository) FindRecurringDue(ctx context.Context, before time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Scopes(notArchived).
		Where("tasks.recurrence <> ?", models.RecurrenceNone).
		Where("tasks.next_occurrence <= ?", before).
		Order("tasks.next_occurrence ASC, tasks.id ASC").
		Find(&tasks).Error
	return tasks, err
}

// Aggregate computes the dashboard counters
func (r *GormTaskRepository) Aggregate(ctx context.Context, now time.Time) (*TaskAggregates, error) {
	db := r.db.WithContext(ctx)
	agg := &TaskAggregates{
		ByStatus:   make(map[models.TaskStatus]int64, len(models.TaskStatuses)),
		ByPriority: make(map[models.TaskPriority]int64, len(models.TaskPriorities)),
	}

	var statusRows []struct {
		Status models.TaskStatus
		Count  int64
	}
	if err := db.Model(&models.Task{}).
		Select("tasks.status AS status, COUNT(*) AS count").
		Group("tasks.status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		agg.ByStatus[row.Status] = row.Count
	}

	var priorityRows []struct {
		Priority models.TaskPriority
		Count    int64
	}
	if err := db.Model(&models.Task{}).
		Scopes(notArchived).
		Select("tasks.priority AS priority, COUNT(*) AS count").
		Group("tasks.priority").
		Scan(&priorityRows).Error; err != nil {
		return nil, err
	}
	for _, row := range priorityRows {
		agg.ByPriority[row.Priority] = row.Count
	}

	if err := db.Model(&models.Task{}).Scopes(notArchived).Count(&agg.Total).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Task{}).
		Scopes(notArchived).
		Where("tasks.status = ?", models.TaskStatusCompleted).
		Count(&agg.Completed).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Task{}).
		Scopes(notArchived).
		Where("tasks.due_date < ? AND tasks.status <> ?", now, models.TaskStatusCompleted).
		Count(&agg.Overdue).Error; err != nil {
		return nil, err
	}

	var average float64
	if err := db.Model(&models.Task{}).
		Scopes(notArchived).
		Select("COALESCE(AVG(tasks.progress), 0)").
		Row().Scan(&average); err != nil {
		return nil, err
	}
	agg.AverageProgress = average

	return agg, nil
}
