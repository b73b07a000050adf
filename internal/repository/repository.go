package repository

import (
	"context"
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

// TaskRepository defines the interface for task data access
type TaskRepository interface {
	// Create creates a new task
	Create(ctx context.Context, task *models.Task) error

	// FindByID finds a task by ID
	FindByID(ctx context.Context, id string) (*models.Task, error)

	// FindChildren returns the direct children of a task, oldest first
	FindChildren(ctx context.Context, parentID string) ([]models.Task, error)

	// FindChildIDs returns the IDs of every task whose parent is in parentIDs
	FindChildIDs(ctx context.Context, parentIDs []string) ([]string, error)

	// List retrieves tasks with filtering, sorting and pagination
	List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error)

	// Update saves every column of a task
	Update(ctx context.Context, task *models.Task) error

	// SetLevelForChildren sets level on every direct child of the given parents
	SetLevelForChildren(ctx context.Context, parentIDs []string, level int) error

	// DeleteByIDs hard deletes the tasks and all of their history
	DeleteByIDs(ctx context.Context, ids []string) error

	// FindRecurringBetween returns non-archived recurring tasks whose next
	// occurrence falls in [from, to], soonest first
	FindRecurringBetween(ctx context.Context, from, to time.Time) ([]models.Task, error)

	// FindRecurringDue returns non-archived recurring tasks whose next
	// occurrence is at or before the given time
	FindRecurringDue(ctx context.Context, before time.Time) ([]models.Task, error)

	// Aggregate computes dashboard counters over the current store state
	Aggregate(ctx context.Context, now time.Time) (*TaskAggregates, error)
}

// HistoryRepository defines the interface for task history data access
type HistoryRepository interface {
	// Create appends a history entry
	Create(ctx context.Context, entry *models.TaskHistory) error

	// ListByTaskID returns a task's history newest first. limit <= 0 means no limit.
	ListByTaskID(ctx context.Context, taskID string, limit int) ([]models.TaskHistory, error)
}

// Store groups the repositories that must change together.
type Store interface {
	Tasks() TaskRepository
	History() HistoryRepository

	// Transaction runs fn against a Store bound to a single transaction.
	// The transaction is rolled back when fn returns an error.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// TaskFilter holds filtering options for listing tasks
type TaskFilter struct {
	Status          *models.TaskStatus
	Statuses        []models.TaskStatus
	Priority        *models.TaskPriority
	Priorities      []models.TaskPriority
	Recurrence      *models.RecurrenceRule
	RootOnly        bool
	OverdueOnly     bool
	ParentID        *string
	Tags            []string
	Search          string
	ProgressMin     *int
	ProgressMax     *int
	DueDateFrom     *time.Time
	DueDateTo       *time.Time
	IncludeArchived bool
	SortBy          string
	SortOrder       string
	Page            int
	PageSize        int

	// Now is the reference time for OverdueOnly. Zero means time.Now().
	Now time.Time
}

// Sort fields accepted by TaskFilter.SortBy
const (
	SortByCreatedAt      = "created_at"
	SortByUpdatedAt      = "updated_at"
	SortByDueDate        = "due_date"
	SortByStartDate      = "start_date"
	SortByNextOccurrence = "next_occurrence"
	SortByTitle          = "title"
	SortByStatus         = "status"
	SortByPriority       = "priority"
	SortByProgress       = "progress"
	SortByLevel          = "level"
)

// Sort directions
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// IsValidSortField reports whether field can be used in TaskFilter.SortBy
func IsValidSortField(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

// TaskAggregates holds raw counters for the statistics engine
type TaskAggregates struct {
	Total           int64
	Completed       int64
	Overdue         int64
	AverageProgress float64
	ByStatus        map[models.TaskStatus]int64
	ByPriority      map[models.TaskPriority]int64
}
