package dto

import (
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
	"github.com/yukikurage/task-hierarchy-api/internal/utils"
)

// TaskDTO represents a task in API responses
type TaskDTO struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Status         models.TaskStatus     `json:"status"`
	Progress       int                   `json:"progress"`
	Priority       models.TaskPriority   `json:"priority"`
	DueDate        *time.Time            `json:"due_date"`
	StartDate      *time.Time            `json:"start_date"`
	CompletedAt    *time.Time            `json:"completed_at"`
	ArchivedAt     *time.Time            `json:"archived_at"`
	Recurrence     models.RecurrenceRule `json:"recurrence"`
	NextOccurrence *time.Time            `json:"next_occurrence"`
	LastOccurrence *time.Time            `json:"last_occurrence"`
	ParentID       *string               `json:"parent_id"`
	Level          int                   `json:"level"`
	Tags           []string              `json:"tags"`
	Metadata       map[string]any        `json:"metadata"`
	EstimatedHours *float64              `json:"estimated_hours"`
	ActualHours    float64               `json:"actual_hours"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// TaskSummaryDTO is the minimal form of a task used inside other responses
type TaskSummaryDTO struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Status   models.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Level    int               `json:"level"`
}

// TaskListResponse represents a paginated list of tasks
type TaskListResponse struct {
	Tasks      []TaskDTO `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalCount int64     `json:"total_count"`
	TotalPages int       `json:"total_pages"`
}

// TaskTreeNode is one node of a task subtree
type TaskTreeNode struct {
	TaskDTO
	Children []TaskTreeNode `json:"children"`
}

// HistoryDTO represents a history entry in API responses
type HistoryDTO struct {
	ID        uint64               `json:"id"`
	TaskID    string               `json:"task_id"`
	Action    models.HistoryAction `json:"action"`
	Status    models.TaskStatus    `json:"status"`
	Progress  int                  `json:"progress"`
	Duration  *int64               `json:"duration,omitempty"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
	ActorID   *string              `json:"actor_id,omitempty"`
	Note      string               `json:"note,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// TaskDetailsDTO is a task with its parent, children and latest history
type TaskDetailsDTO struct {
	TaskDTO
	Parent   *TaskSummaryDTO  `json:"parent"`
	Children []TaskSummaryDTO `json:"children"`
	History  []HistoryDTO     `json:"history"`
}

// StatisticsDTO represents dashboard aggregates
type StatisticsDTO struct {
	Total               int64                          `json:"total"`
	ByStatus            map[models.TaskStatus]int64    `json:"by_status"`
	ByPriority          map[models.TaskPriority]int64  `json:"by_priority"`
	Overdue             int64                          `json:"overdue"`
	CompletionRate      int                            `json:"completion_rate"`
	AverageProgress     int                            `json:"average_progress"`
	UpcomingRecurrences []TaskSummaryWithOccurrenceDTO `json:"upcoming_recurrences"`
	UpcomingWindowDays  int                            `json:"upcoming_window_days"`
	GeneratedAt         time.Time                      `json:"generated_at"`
}

// TaskSummaryWithOccurrenceDTO is a recurring task summary
type TaskSummaryWithOccurrenceDTO struct {
	TaskSummaryDTO
	Recurrence     models.RecurrenceRule `json:"recurrence"`
	NextOccurrence *time.Time            `json:"next_occurrence"`
}

// Conversion functions

// ToTaskDTO converts a Task model to TaskDTO
func ToTaskDTO(task models.Task) TaskDTO {
	tags := []string(task.Tags)
	if tags == nil {
		tags = []string{}
	}
	metadata := map[string]any(task.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	return TaskDTO{
		ID:             task.ID,
		Title:          task.Title,
		Description:    task.Description,
		Status:         task.Status,
		Progress:       task.Progress,
		Priority:       task.Priority,
		DueDate:        task.DueDate,
		StartDate:      task.StartDate,
		CompletedAt:    task.CompletedAt,
		ArchivedAt:     task.ArchivedAt,
		Recurrence:     task.Recurrence,
		NextOccurrence: task.NextOccurrence,
		LastOccurrence: task.LastOccurrence,
		ParentID:       task.ParentID,
		Level:          task.Level,
		Tags:           tags,
		Metadata:       metadata,
		EstimatedHours: task.EstimatedHours,
		ActualHours:    task.ActualHours,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

// ToTaskDTOs converts a slice of tasks
func ToTaskDTOs(tasks []models.Task) []TaskDTO {
	items := make([]TaskDTO, len(tasks))
	for i, task := range tasks {
		items[i] = ToTaskDTO(task)
	}
	return items
}

// ToTaskSummaryDTO converts a Task model to TaskSummaryDTO
func ToTaskSummaryDTO(task models.Task) TaskSummaryDTO {
	return TaskSummaryDTO{
		ID:       task.ID,
		Title:    task.Title,
		Status:   task.Status,
		Progress: task.Progress,
		Level:    task.Level,
	}
}

// ToTaskListResponse converts a page of tasks to TaskListResponse
func ToTaskListResponse(tasks []models.Task, page, pageSize int, totalCount int64) TaskListResponse {
	return TaskListResponse{
		Tasks:      ToTaskDTOs(tasks),
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: utils.TotalPages(totalCount, pageSize),
	}
}

// ToTaskTree converts a loaded subtree
func ToTaskTree(node *services.TaskNode) TaskTreeNode {
	tree := TaskTreeNode{
		TaskDTO:  ToTaskDTO(node.Task),
		Children: make([]TaskTreeNode, len(node.Children)),
	}
	for i, child := range node.Children {
		tree.Children[i] = ToTaskTree(child)
	}
	return tree
}

// ToHistoryDTO converts a TaskHistory model to HistoryDTO
func ToHistoryDTO(entry models.TaskHistory) HistoryDTO {
	return HistoryDTO{
		ID:        entry.ID,
		TaskID:    entry.TaskID,
		Action:    entry.Action,
		Status:    entry.Status,
		Progress:  entry.Progress,
		Duration:  entry.Duration,
		Metadata:  entry.Metadata,
		ActorID:   entry.ActorID,
		Note:      entry.Note,
		CreatedAt: entry.CreatedAt,
	}
}

// ToHistoryDTOs converts a slice of history entries
func ToHistoryDTOs(entries []models.TaskHistory) []HistoryDTO {
	items := make([]HistoryDTO, len(entries))
	for i, entry := range entries {
		items[i] = ToHistoryDTO(entry)
	}
	return items
}

// ToTaskDetailsDTO converts a task with its relations
func ToTaskDetailsDTO(details *services.TaskDetails) TaskDetailsDTO {
	dto := TaskDetailsDTO{
		TaskDTO:  ToTaskDTO(details.Task),
		Children: make([]TaskSummaryDTO, len(details.Children)),
		History:  ToHistoryDTOs(details.History),
	}

	// Parent is absent for root tasks
	if details.Parent != nil {
		parent := ToTaskSummaryDTO(*details.Parent)
		dto.Parent = &parent
	}

	for i, child := range details.Children {
		dto.Children[i] = ToTaskSummaryDTO(child)
	}

	return dto
}

// ToStatisticsDTO converts computed statistics
func ToStatisticsDTO(stats *services.Statistics) StatisticsDTO {
	upcoming := make([]TaskSummaryWithOccurrenceDTO, len(stats.UpcomingRecurrences))
	for i, task := range stats.UpcomingRecurrences {
		upcoming[i] = TaskSummaryWithOccurrenceDTO{
			TaskSummaryDTO: ToTaskSummaryDTO(task),
			Recurrence:     task.Recurrence,
			NextOccurrence: task.NextOccurrence,
		}
	}

	return StatisticsDTO{
		Total:               stats.Total,
		ByStatus:            stats.ByStatus,
		ByPriority:          stats.ByPriority,
		Overdue:             stats.Overdue,
		CompletionRate:      stats.CompletionRate,
		AverageProgress:     stats.AverageProgress,
		UpcomingRecurrences: upcoming,
		UpcomingWindowDays:  stats.UpcomingWindowDays,
		GeneratedAt:         stats.GeneratedAt,
	}
}
