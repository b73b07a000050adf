package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yukikurage/task-hierarchy-api/internal/cache"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/logger"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound           = errors.New("task not found")
	ErrParentNotFound         = errors.New("parent task not found")
	ErrTitleRequired          = errors.New("title is required")
	ErrTitleTooLong           = fmt.Errorf("title must be at most %d characters", constants.MaxTitleLength)
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidPriority        = errors.New("invalid priority")
	ErrInvalidRecurrence      = errors.New("invalid recurrence rule")
	ErrInvalidProgress        = errors.New("progress must be between 0 and 100")
	ErrInvalidHours           = errors.New("hours must not be negative")
	ErrInvalidSortField       = errors.New("invalid sort field")
	ErrInvalidDays            = fmt.Errorf("days must be between 1 and %d", constants.MaxUpcomingDays)
	ErrNextOccurrenceRequired = errors.New("next occurrence is required for recurring tasks")
	ErrCyclicReference        = errors.New("cyclic reference: a task cannot be moved under itself or its descendants")
	ErrNotRecurring           = errors.New("task is not recurring")
	ErrInvalidTransition      = errors.New("action not allowed in the task's current status")
	ErrAIServiceNotConfigured = errors.New("AI service is not configured")
)

// IsNotFound reports whether err means a referenced task does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrParentNotFound)
}

// IsValidation reports whether err is a caller error that left state untouched
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrTitleRequired,
		ErrTitleTooLong,
		ErrInvalidStatus,
		ErrInvalidPriority,
		ErrInvalidRecurrence,
		ErrInvalidProgress,
		ErrInvalidHours,
		ErrInvalidSortField,
		ErrInvalidDays,
		ErrNextOccurrenceRequired,
		ErrCyclicReference,
		ErrNotRecurring,
		ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TaskService handles task business logic
type TaskService struct {
	store     repository.Store
	stats     *cache.Cache[*Statistics]
	aiService *AIService
	log       *slog.Logger
	now       func() time.Time
}

// NewTaskService creates a new TaskService. stats and aiService may be nil.
func NewTaskService(store repository.Store, stats *cache.Cache[*Statistics], aiService *AIService, log *slog.Logger) *TaskService {
	if log == nil {
		log = slog.Default()
	}
	return &TaskService{
		store:     store,
		stats:     stats,
		aiService: aiService,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (used for testing)
func (s *TaskService) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// CreateTaskInput represents input for creating a task
type CreateTaskInput struct {
	Title          string
	Description    string
	Status         models.TaskStatus
	Progress       *int
	Priority       models.TaskPriority
	DueDate        *time.Time
	StartDate      *time.Time
	Recurrence     models.RecurrenceRule
	NextOccurrence *time.Time
	ParentID       *string
	Tags           []string
	Metadata       map[string]any
	EstimatedHours *float64
	ActualHours    *float64
	Note           string
}

// UpdateTaskInput represents input for updating a task. Nil fields are left
// unchanged; ParentID pointing to "" makes the task a root.
type UpdateTaskInput struct {
	Title               *string
	Description         *string
	Status              *models.TaskStatus
	Progress            *int
	Priority            *models.TaskPriority
	DueDate             *time.Time
	ClearDueDate        bool
	StartDate           *time.Time
	ClearStartDate      bool
	Recurrence          *models.RecurrenceRule
	NextOccurrence      *time.Time
	ClearNextOccurrence bool
	ParentID            *string
	Tags                *[]string
	Metadata            map[string]any
	EstimatedHours      *float64
	ClearEstimatedHours bool
	ActualHours         *float64
	Note                string
}

// TaskDetails is a task together with its immediate relations
type TaskDetails struct {
	Task     models.Task
	Parent   *models.Task
	Children []models.Task
	History  []models.TaskHistory
}

// CreateTask validates input, resolves the parent level and stores the task
// with its "created" history entry
func (s *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}

	if input.Status == "" {
		input.Status = models.TaskStatusActive
	}
	if input.Priority == "" {
		input.Priority = models.TaskPriorityMedium
	}
	if input.Recurrence == "" {
		input.Recurrence = models.RecurrenceNone
	}
	if !input.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if !input.Priority.IsValid() {
		return nil, ErrInvalidPriority
	}
	if !input.Recurrence.IsValid() {
		return nil, ErrInvalidRecurrence
	}
	if input.Recurrence != models.RecurrenceNone && input.NextOccurrence == nil {
		return nil, ErrNextOccurrenceRequired
	}
	if input.Progress != nil && !validProgress(*input.Progress) {
		return nil, ErrInvalidProgress
	}
	if !validHours(input.EstimatedHours) || !validHours(input.ActualHours) {
		return nil, ErrInvalidHours
	}

	now := s.now()
	task := &models.Task{
		Title:          title,
		Description:    input.Description,
		Status:         input.Status,
		Priority:       input.Priority,
		DueDate:        utcTime(input.DueDate),
		StartDate:      utcTime(input.StartDate),
		Recurrence:     input.Recurrence,
		NextOccurrence: utcTime(input.NextOccurrence),
		Tags:           normalizeTags(input.Tags),
		Metadata:       input.Metadata,
		EstimatedHours: input.EstimatedHours,
	}
	if input.Progress != nil {
		task.Progress = *input.Progress
	}
	if input.ActualHours != nil {
		task.ActualHours = *input.ActualHours
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		task.Progress = 100
		task.CompletedAt = &now
	case models.TaskStatusArchived:
		task.ArchivedAt = &now
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		parent, level, err := resolveParent(ctx, tx.Tasks(), input.ParentID)
		if err != nil {
			return err
		}
		if parent != nil {
			task.ParentID = &parent.ID
		}
		task.Level = level

		if err := tx.Tasks().Create(ctx, task); err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		metadata := map[string]any{"level": task.Level}
		if task.ParentID != nil {
			metadata["parentId"] = *task.ParentID
		}
		return s.record(ctx, tx, task, &change{
			action:   models.HistoryActionCreated,
			metadata: metadata,
			note:     input.Note,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatistics()
	return task, nil
}

// GetTask returns a task by ID
func (s *TaskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return findTask(ctx, s.store.Tasks(), id)
}

// GetTaskDetails returns a task with its parent, direct children and most
// recent history entries
func (s *TaskService) GetTaskDetails(ctx context.Context, id string, historyLimit int) (*TaskDetails, error) {
	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}

	details := &TaskDetails{Task: *task}

	if !task.IsRoot() {
		parent, err := s.store.Tasks().FindByID(ctx, *task.ParentID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to find parent task: %w", err)
		}
		details.Parent = parent
	}

	details.Children, err = s.store.Tasks().FindChildren(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children: %w", err)
	}

	details.History, err = s.store.History().ListByTaskID(ctx, task.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return details, nil
}

// ListTasks returns one page of tasks matching filter and the total number
// of matching tasks
func (s *TaskService) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]models.Task, int64, error) {
	if filter.SortBy != "" && !repository.IsValidSortField(filter.SortBy) {
		return nil, 0, ErrInvalidSortField
	}
	if filter.Now.IsZero() {
		filter.Now = s.now()
	}
	filter.Now = filter.Now.UTC()
	filter.DueDateFrom = utcTime(filter.DueDateFrom)
	filter.DueDateTo = utcTime(filter.DueDateTo)

	tasks, total, err := s.store.Tasks().List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, total, nil
}

// UpdateTask applies the provided fields. A parent change is validated
// against cycles before anything is written, and the task, its descendants'
// levels and the history entry are stored in one transaction.
func (s *TaskService) UpdateTask(ctx context.Context, id string, input UpdateTaskInput) (*models.Task, error) {
	var result *models.Task

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		task, err := findTask(ctx, tx.Tasks(), id)
		if err != nil {
			return err
		}

		now := s.now()
		oldStatus := task.Status
		oldProgress := task.Progress
		oldParentID := task.ParentID
		var updated []string

		reparent := false
		if input.ParentID != nil && !sameParent(task.ParentID, *input.ParentID) {
			level, err := checkReparent(ctx, tx.Tasks(), task, *input.ParentID)
			if err != nil {
				return err
			}
			if *input.ParentID == "" {
				task.ParentID = nil
			} else {
				parentID := *input.ParentID
				task.ParentID = &parentID
			}
			task.Level = level
			reparent = true
			updated = append(updated, "parent_id")
		}

		if input.Title != nil {
			title, err := validateTitle(*input.Title)
			if err != nil {
				return err
			}
			task.Title = title
			updated = append(updated, "title")
		}
		if input.Description != nil {
			task.Description = *input.Description
			updated = append(updated, "description")
		}
		if input.Priority != nil {
			if !input.Priority.IsValid() {
				return ErrInvalidPriority
			}
			task.Priority = *input.Priority
			updated = append(updated, "priority")
		}
		if input.Progress != nil {
			if !validProgress(*input.Progress) {
				return ErrInvalidProgress
			}
			task.Progress = *input.Progress
			updated = append(updated, "progress")
		}
		if input.Status != nil {
			if !input.Status.IsValid() {
				return ErrInvalidStatus
			}
			setStatus(task, *input.Status, now)
			updated = append(updated, "status")
		}
		// a completed task is always at 100
		if input.Progress != nil && task.Status == models.TaskStatusCompleted && task.Progress != 100 {
			return ErrInvalidProgress
		}
		if input.ClearDueDate {
			task.DueDate = nil
			updated = append(updated, "due_date")
		} else if input.DueDate != nil {
			task.DueDate = utcTime(input.DueDate)
			updated = append(updated, "due_date")
		}
		if input.ClearStartDate {
			task.StartDate = nil
			updated = append(updated, "start_date")
		} else if input.StartDate != nil {
			task.StartDate = utcTime(input.StartDate)
			updated = append(updated, "start_date")
		}
		if input.Recurrence != nil {
			if !input.Recurrence.IsValid() {
				return ErrInvalidRecurrence
			}
			task.Recurrence = *input.Recurrence
			updated = append(updated, "recurrence")
		}
		if input.ClearNextOccurrence {
			task.NextOccurrence = nil
			updated = append(updated, "next_occurrence")
		} else if input.NextOccurrence != nil {
			task.NextOccurrence = utcTime(input.NextOccurrence)
			updated = append(updated, "next_occurrence")
		}
		if task.Recurrence != models.RecurrenceNone && task.NextOccurrence == nil {
			return ErrNextOccurrenceRequired
		}
		if input.Tags != nil {
			task.Tags = normalizeTags(*input.Tags)
			updated = append(updated, "tags")
		}
		if input.Metadata != nil {
			task.Metadata = input.Metadata
			updated = append(updated, "metadata")
		}
		if input.ClearEstimatedHours {
			task.EstimatedHours = nil
			updated = append(updated, "estimated_hours")
		} else if input.EstimatedHours != nil {
			if !validHours(input.EstimatedHours) {
				return ErrInvalidHours
			}
			task.EstimatedHours = input.EstimatedHours
			updated = append(updated, "estimated_hours")
		}
		if input.ActualHours != nil {
			if !validHours(input.ActualHours) {
				return ErrInvalidHours
			}
			task.ActualHours = *input.ActualHours
			updated = append(updated, "actual_hours")
		}

		if err := tx.Tasks().Update(ctx, task); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if reparent {
			if err := propagateLevels(ctx, tx.Tasks(), task); err != nil {
				return err
			}
		}

		metadata := map[string]any{
			"oldStatus":     string(oldStatus),
			"newStatus":     string(task.Status),
			"oldProgress":   oldProgress,
			"newProgress":   task.Progress,
			"updatedFields": updated,
		}
		if reparent {
			metadata["oldParentId"] = derefString(oldParentID)
			metadata["newParentId"] = derefString(task.ParentID)
			metadata["newLevel"] = task.Level
		}

		if err := s.record(ctx, tx, task, &change{
			action:   models.HistoryActionUpdated,
			metadata: metadata,
			note:     input.Note,
		}); err != nil {
			return err
		}

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStatistics()
	return result, nil
}

// DeleteTask hard deletes a task and all of its descendants. The "deleted"
// history entry is written first and removed with the rest of the subtree's
// history when the transaction commits.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	var removed int

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		task, err := findTask(ctx, tx.Tasks(), id)
		if err != nil {
			return err
		}

		descendants, err := descendantIDs(ctx, tx.Tasks(), task.ID)
		if err != nil {
			return err
		}

		if err := s.record(ctx, tx, task, &change{
			action: models.HistoryActionDeleted,
			metadata: map[string]any{
				"finalStatus":     string(task.Status),
				"hadChildren":     len(descendants) > 0,
				"descendantCount": len(descendants),
			},
		}); err != nil {
			return err
		}

		ids := append([]string{task.ID}, descendants...)
		if err := tx.Tasks().DeleteByIDs(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		removed = len(ids)
		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.log).Info("task deleted", "task_id", id, "removed", removed)
	s.invalidateStatistics()
	return nil
}

// ToggleCompletion flips a task between active and completed
func (s *TaskService) ToggleCompletion(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, now time.Time) (*change, error) {
		return toggleCompletion(task, now)
	})
}

// BlockTask marks a task as blocked, optionally recording why
func (s *TaskService) BlockTask(ctx context.Context, id, reason string) (*models.Task, error) {
	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, now time.Time) (*change, error) {
		return blockTask(task, reason, now)
	})
}

// UnblockTask returns a blocked task to active
func (s *TaskService) UnblockTask(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, _ time.Time) (*change, error) {
		return unblockTask(task)
	})
}

// ArchiveTask soft-deletes a task
func (s *TaskService) ArchiveTask(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, now time.Time) (*change, error) {
		return archiveTask(task, now)
	})
}

// UnarchiveTask restores an archived task
func (s *TaskService) UnarchiveTask(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, now time.Time) (*change, error) {
		return unarchiveTask(task, now)
	})
}

// MoveToNextOccurrence advances a recurring task by one step of its rule
func (s *TaskService) MoveToNextOccurrence(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ repository.Store, task *models.Task, now time.Time) (*change, error) {
		return advanceOccurrence(task, now)
	})
}

// RecalculateProgress derives a task's progress from its direct children.
// A task without children is returned unchanged and no history is written.
func (s *TaskService) RecalculateProgress(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(tx repository.Store, task *models.Task, now time.Time) (*change, error) {
		children, err := tx.Tasks().FindChildren(ctx, task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load children: %w", err)
		}
		return applyChildProgress(task, children, now), nil
	})
}

// AdvanceDueRecurrences moves every recurring task whose next occurrence has
// passed to its following occurrence and returns how many were advanced
func (s *TaskService) AdvanceDueRecurrences(ctx context.Context) (int, error) {
	due, err := s.store.Tasks().FindRecurringDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to find due recurrences: %w", err)
	}

	advanced := 0
	for _, task := range due {
		if _, err := s.MoveToNextOccurrence(ctx, task.ID); err != nil {
			if IsNotFound(err) {
				continue
			}
			return advanced, fmt.Errorf("failed to advance task %s: %w", task.ID, err)
		}
		advanced++
	}

	return advanced, nil
}

// GetChildren returns the direct children of a task
func (s *TaskService) GetChildren(ctx context.Context, id string) ([]models.Task, error) {
	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}

	children, err := s.store.Tasks().FindChildren(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children: %w", err)
	}
	return children, nil
}

// GetTree returns the full subtree rooted at a task
func (s *TaskService) GetTree(ctx context.Context, id string) (*TaskNode, error) {
	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}
	return buildTree(ctx, s.store.Tasks(), *task)
}

// GetAncestors returns the ancestor chain of a task, root first
func (s *TaskService) GetAncestors(ctx context.Context, id string) ([]models.Task, error) {
	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}
	return ancestorsOf(ctx, s.store.Tasks(), task)
}

// GetHistory returns every history entry of a task, newest first
func (s *TaskService) GetHistory(ctx context.Context, id string) ([]models.TaskHistory, error) {
	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.History().ListByTaskID(ctx, task.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

// mutate fetches a task, applies fn and stores the task and the resulting
// history entry in one transaction. fn returning a nil change is a no-op.
func (s *TaskService) mutate(ctx context.Context, id string, fn func(tx repository.Store, task *models.Task, now time.Time) (*change, error)) (*models.Task, error) {
	var result *models.Task
	changed := false

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		task, err := findTask(ctx, tx.Tasks(), id)
		if err != nil {
			return err
		}

		c, err := fn(tx, task, s.now())
		if err != nil {
			return err
		}
		result = task
		if c == nil {
			return nil
		}

		if err := tx.Tasks().Update(ctx, task); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		changed = true
		return s.record(ctx, tx, task, c)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.invalidateStatistics()
	}
	return result, nil
}

// record appends the history entry describing c, snapshotting the task's
// current status and progress
func (s *TaskService) record(ctx context.Context, tx repository.Store, task *models.Task, c *change) error {
	entry := &models.TaskHistory{
		TaskID:   task.ID,
		Action:   c.action,
		Status:   task.Status,
		Progress: task.Progress,
		Metadata: c.metadata,
		Note:     c.note,
	}
	if actorID, ok := ActorFromContext(ctx); ok {
		entry.ActorID = &actorID
	}

	if err := tx.History().Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s history: %w", c.action, err)
	}
	return nil
}

func (s *TaskService) invalidateStatistics() {
	if s.stats != nil {
		s.stats.Clear()
	}
}

func findTask(ctx context.Context, tasks repository.TaskRepository, id string) (*models.Task, error) {
	task, err := tasks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > constants.MaxTitleLength {
		return "", ErrTitleTooLong
	}
	return title, nil
}

func validProgress(p int) bool {
	return p >= 0 && p <= 100
}

func validHours(h *float64) bool {
	return h == nil || *h >= 0
}

// normalizeTags trims tags and drops empty and duplicate entries
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}

func sameParent(current *string, proposed string) bool {
	if current == nil {
		return proposed == ""
	}
	return *current == proposed
}

// utcTime copies t in UTC. Stored and compared times are all UTC so that
// text-backed time columns order correctly.
func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// SuggestSubtasks asks the AI service for candidate children of a task
func (s *TaskService) SuggestSubtasks(ctx context.Context, id string, max int) ([]SuggestedSubtask, error) {
	if s.aiService == nil {
		return nil, ErrAIServiceNotConfigured
	}

	task, err := findTask(ctx, s.store.Tasks(), id)
	if err != nil {
		return nil, err
	}

	ancestors, err := ancestorsOf(ctx, s.store.Tasks(), task)
	if err != nil {
		return nil, err
	}

	children, err := s.store.Tasks().FindChildren(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children: %w", err)
	}

	return s.aiService.SuggestSubtasks(ctx, *task, ancestors, children, max)
}
