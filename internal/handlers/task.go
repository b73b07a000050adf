package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yukikurage/task-hierarchy-api/internal/dto"
	apierrors "github.com/yukikurage/task-hierarchy-api/internal/errors"
	"github.com/yukikurage/task-hierarchy-api/internal/logger"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
	"github.com/yukikurage/task-hierarchy-api/internal/utils"
)

// relationsHistoryLimit bounds the history embedded in ?include=relations
const relationsHistoryLimit = 10

type TaskHandler struct {
	service *services.TaskService
	log     *slog.Logger
}

func NewTaskHandler(service *services.TaskService, log *slog.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes mounts the task API on rg
func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)
		tasks.POST("", h.CreateTask)
		tasks.GET("/statistics", h.GetStatistics)
		tasks.GET("/recurrences/upcoming", h.GetUpcomingRecurrences)
		tasks.GET("/:id", h.GetTask)
		tasks.PATCH("/:id", h.UpdateTask)
		tasks.DELETE("/:id", h.DeleteTask)
		tasks.POST("/:id/toggle", h.ToggleCompletion)
		tasks.POST("/:id/block", h.BlockTask)
		tasks.POST("/:id/unblock", h.UnblockTask)
		tasks.POST("/:id/archive", h.ArchiveTask)
		tasks.POST("/:id/unarchive", h.UnarchiveTask)
		tasks.POST("/:id/next-occurrence", h.MoveToNextOccurrence)
		tasks.POST("/:id/recalculate-progress", h.RecalculateProgress)
		tasks.POST("/:id/suggest-subtasks", h.SuggestSubtasks)
		tasks.GET("/:id/children", h.GetChildren)
		tasks.GET("/:id/tree", h.GetTree)
		tasks.GET("/:id/ancestors", h.GetAncestors)
		tasks.GET("/:id/history", h.GetHistory)
	}
}

// CreateTaskRequest is the body of POST /tasks
type CreateTaskRequest struct {
	Title          string                `json:"title" binding:"required"`
	Description    string                `json:"description"`
	Status         models.TaskStatus     `json:"status"`
	Progress       *int                  `json:"progress"`
	Priority       models.TaskPriority   `json:"priority"`
	DueDate        *time.Time            `json:"due_date"`
	StartDate      *time.Time            `json:"start_date"`
	Recurrence     models.RecurrenceRule `json:"recurrence"`
	NextOccurrence *time.Time            `json:"next_occurrence"`
	ParentID       *string               `json:"parent_id"`
	Tags           []string              `json:"tags"`
	Metadata       map[string]any        `json:"metadata"`
	EstimatedHours *float64              `json:"estimated_hours"`
	ActualHours    *float64              `json:"actual_hours"`
	Note           string                `json:"note"`
}

// CreateTask creates a new task
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "Invalid request body")
		return
	}

	task, err := h.service.CreateTask(c.Request.Context(), services.CreateTaskInput{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Progress:       req.Progress,
		Priority:       req.Priority,
		DueDate:        req.DueDate,
		StartDate:      req.StartDate,
		Recurrence:     req.Recurrence,
		NextOccurrence: req.NextOccurrence,
		ParentID:       req.ParentID,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
		Note:           req.Note,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToTaskDTO(*task))
}

// GetTask returns a task, with its parent, children and latest history when
// ?include=relations is given
func (h *TaskHandler) GetTask(c *gin.Context) {
	if c.Query("include") == "relations" {
		details, err := h.service.GetTaskDetails(c.Request.Context(), c.Param("id"), relationsHistoryLimit)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToTaskDetailsDTO(details))
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// ListTasks returns one page of tasks matching the query filters
func (h *TaskHandler) ListTasks(c *gin.Context) {
	filter, err := parseTaskFilter(c)
	if err != nil {
		respondQueryError(c, err)
		return
	}

	tasks, total, err := h.service.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskListResponse(tasks, filter.Page, filter.PageSize, total))
}

// UpdateTask updates the fields present in the body. A field sent as null is
// cleared where that is allowed.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	// Parse raw JSON to detect which fields were sent
	var rawReq map[string]json.RawMessage
	if err := c.ShouldBindJSON(&rawReq); err != nil {
		apierrors.BadRequest(c, "Invalid request body")
		return
	}

	input, err := parseUpdateInput(rawReq)
	if err != nil {
		apierrors.BadRequest(c, err.Error())
		return
	}

	task, err := h.service.UpdateTask(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// DeleteTask deletes a task and its whole subtree
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := h.service.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task deleted successfully",
	})
}

// ToggleCompletion flips a task between active and completed
func (h *TaskHandler) ToggleCompletion(c *gin.Context) {
	h.respondTask(c)(h.service.ToggleCompletion(c.Request.Context(), c.Param("id")))
}

// BlockTask blocks a task. The body may carry a reason.
func (h *TaskHandler) BlockTask(c *gin.Context) {
	type BlockTaskRequest struct {
		Reason string `json:"reason"`
	}

	var req BlockTaskRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.BadRequest(c, "Invalid request body")
			return
		}
	}

	h.respondTask(c)(h.service.BlockTask(c.Request.Context(), c.Param("id"), req.Reason))
}

// UnblockTask returns a blocked task to active
func (h *TaskHandler) UnblockTask(c *gin.Context) {
	h.respondTask(c)(h.service.UnblockTask(c.Request.Context(), c.Param("id")))
}

// ArchiveTask soft-deletes a task
func (h *TaskHandler) ArchiveTask(c *gin.Context) {
	h.respondTask(c)(h.service.ArchiveTask(c.Request.Context(), c.Param("id")))
}

// UnarchiveTask restores an archived task
func (h *TaskHandler) UnarchiveTask(c *gin.Context) {
	h.respondTask(c)(h.service.UnarchiveTask(c.Request.Context(), c.Param("id")))
}

// MoveToNextOccurrence advances a recurring task
func (h *TaskHandler) MoveToNextOccurrence(c *gin.Context) {
	h.respondTask(c)(h.service.MoveToNextOccurrence(c.Request.Context(), c.Param("id")))
}

// RecalculateProgress derives a task's progress from its children
func (h *TaskHandler) RecalculateProgress(c *gin.Context) {
	h.respondTask(c)(h.service.RecalculateProgress(c.Request.Context(), c.Param("id")))
}

// GetChildren returns the direct children of a task
func (h *TaskHandler) GetChildren(c *gin.Context) {
	children, err := h.service.GetChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": dto.ToTaskDTOs(children)})
}

// GetTree returns the subtree rooted at a task
func (h *TaskHandler) GetTree(c *gin.Context) {
	tree, err := h.service.GetTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskTree(tree))
}

// GetAncestors returns the ancestor chain of a task, root first
func (h *TaskHandler) GetAncestors(c *gin.Context) {
	ancestors, err := h.service.GetAncestors(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": dto.ToTaskDTOs(ancestors)})
}

// GetHistory returns the audit trail of a task, newest first
func (h *TaskHandler) GetHistory(c *gin.Context) {
	entries, err := h.service.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": dto.ToHistoryDTOs(entries)})
}

// GetStatistics returns dashboard aggregates
func (h *TaskHandler) GetStatistics(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		respondQueryError(c, err)
		return
	}

	stats, err := h.service.GetStatistics(c.Request.Context(), days)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToStatisticsDTO(stats))
}

// GetUpcomingRecurrences lists recurring tasks due within ?days (default 7)
func (h *TaskHandler) GetUpcomingRecurrences(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		respondQueryError(c, err)
		return
	}

	tasks, err := h.service.GetUpcomingRecurrences(c.Request.Context(), days)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": dto.ToTaskDTOs(tasks)})
}

// SuggestSubtasks asks the AI service for candidate children of a task
func (h *TaskHandler) SuggestSubtasks(c *gin.Context) {
	type SuggestSubtasksRequest struct {
		Max int `json:"max"`
	}

	var req SuggestSubtasksRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.BadRequest(c, "Invalid request body")
			return
		}
	}

	suggestions, err := h.service.SuggestSubtasks(c.Request.Context(), c.Param("id"), req.Max)
	if err != nil {
		if services.IsNotFound(err) || errors.Is(err, services.ErrAIServiceNotConfigured) {
			h.respondServiceError(c, err)
			return
		}
		logger.FromContext(c.Request.Context(), h.log).Error("subtask suggestion failed", "task_id", c.Param("id"), "error", err)
		apierrors.BadGateway(c, "Failed to generate subtask suggestions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// respondTask returns a closure writing the outcome of a single-task action
func (h *TaskHandler) respondTask(c *gin.Context) func(*models.Task, error) {
	return func(task *models.Task, err error) {
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
	}
}

// respondServiceError maps service errors onto API errors
func (h *TaskHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case services.IsNotFound(err):
		apierrors.NotFound(c, err.Error())
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrNotRecurring):
		apierrors.InvalidOperation(c, err.Error())
	case services.IsValidation(err):
		apierrors.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrAIServiceNotConfigured):
		apierrors.ServiceUnavailable(c, "AI service is not configured. Please set OPENAI_API_KEY environment variable.")
	default:
		logger.FromContext(c.Request.Context(), h.log).Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"task_id", c.Param("id"),
			"error", err,
		)
		_ = c.Error(err)
		apierrors.InternalError(c, "")
	}
}

// parseTaskFilter reads listing filters from the query string
func parseTaskFilter(c *gin.Context) (repository.TaskFilter, error) {
	params := utils.GetPaginationParams(c)
	filter := repository.TaskFilter{
		Page:      params.Page,
		PageSize:  params.Limit,
		SortBy:    c.Query("sort_by"),
		SortOrder: strings.ToLower(c.Query("sort_order")),
		Search:    c.Query("search"),
	}

	if filter.SortOrder != "" && filter.SortOrder != repository.SortAsc && filter.SortOrder != repository.SortDesc {
		return filter, errors.New("sort_order must be asc or desc")
	}

	for _, s := range splitList(c.Query("status")) {
		status := models.TaskStatus(s)
		if !status.IsValid() {
			return filter, errors.New("invalid status: " + s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	for _, p := range splitList(c.Query("priority")) {
		priority := models.TaskPriority(p)
		if !priority.IsValid() {
			return filter, errors.New("invalid priority: " + p)
		}
		filter.Priorities = append(filter.Priorities, priority)
	}

	if r := c.Query("recurrence"); r != "" {
		rule := models.RecurrenceRule(r)
		if !rule.IsValid() {
			return filter, errors.New("invalid recurrence: " + r)
		}
		filter.Recurrence = &rule
	}

	if parentID := c.Query("parent_id"); parentID != "" {
		filter.ParentID = &parentID
	}
	filter.Tags = splitList(c.Query("tags"))

	var err error
	if filter.RootOnly, err = queryBool(c, "root_only"); err != nil {
		return filter, err
	}
	if filter.OverdueOnly, err = queryBool(c, "overdue"); err != nil {
		return filter, err
	}
	if filter.IncludeArchived, err = queryBool(c, "include_archived"); err != nil {
		return filter, err
	}

	if filter.ProgressMin, err = queryIntPtr(c, "progress_min"); err != nil {
		return filter, err
	}
	if filter.ProgressMax, err = queryIntPtr(c, "progress_max"); err != nil {
		return filter, err
	}
	if filter.DueDateFrom, err = queryTime(c, "due_from"); err != nil {
		return filter, err
	}
	if filter.DueDateTo, err = queryTime(c, "due_to"); err != nil {
		return filter, err
	}

	return filter, nil
}

// parseUpdateInput converts the raw PATCH body into an UpdateTaskInput
func parseUpdateInput(raw map[string]json.RawMessage) (services.UpdateTaskInput, error) {
	var input services.UpdateTaskInput

	fields := []struct {
		name   string
		target any
		clear  *bool
	}{
		{"title", &input.Title, nil},
		{"description", &input.Description, nil},
		{"status", &input.Status, nil},
		{"progress", &input.Progress, nil},
		{"priority", &input.Priority, nil},
		{"due_date", &input.DueDate, &input.ClearDueDate},
		{"start_date", &input.StartDate, &input.ClearStartDate},
		{"recurrence", &input.Recurrence, nil},
		{"next_occurrence", &input.NextOccurrence, &input.ClearNextOccurrence},
		{"tags", &input.Tags, nil},
		{"metadata", &input.Metadata, nil},
		{"estimated_hours", &input.EstimatedHours, &input.ClearEstimatedHours},
		{"actual_hours", &input.ActualHours, nil},
		{"note", &input.Note, nil},
	}

	for _, f := range fields {
		value, ok := raw[f.name]
		if !ok {
			continue
		}
		if isNull(value) {
			if f.clear != nil {
				*f.clear = true
			}
			continue
		}
		if err := json.Unmarshal(value, f.target); err != nil {
			return input, errors.New("invalid " + f.name)
		}
	}

	// parent_id: null or "" detaches the task
	if value, ok := raw["parent_id"]; ok {
		parentID := ""
		if !isNull(value) {
			if err := json.Unmarshal(value, &parentID); err != nil {
				return input, errors.New("invalid parent_id")
			}
		}
		input.ParentID = &parentID
	}

	// null tags clear the list
	if value, ok := raw["tags"]; ok && isNull(value) {
		empty := []string{}
		input.Tags = &empty
	}

	return input, nil
}

func isNull(value json.RawMessage) bool {
	return strings.TrimSpace(string(value)) == "null"
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// queryFormatError reports a query parameter that could not be parsed
type queryFormatError struct {
	param    string
	expected string
}

func (e *queryFormatError) Error() string {
	return "invalid " + e.param + ": expected " + e.expected
}

// respondQueryError answers INVALID_FORMAT for unparsable parameters and
// INVALID_INPUT for anything else
func respondQueryError(c *gin.Context, err error) {
	var formatErr *queryFormatError
	if errors.As(err, &formatErr) {
		apierrors.InvalidFormat(c, formatErr.Error(), gin.H{"param": formatErr.param, "expected": formatErr.expected})
		return
	}
	apierrors.BadRequest(c, err.Error())
}

func queryBool(c *gin.Context, key string) (bool, error) {
	value := c.Query(key)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &queryFormatError{param: key, expected: "boolean"}
	}
	return b, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &queryFormatError{param: key, expected: "integer"}
	}
	return n, nil
}

func queryIntPtr(c *gin.Context, key string) (*int, error) {
	value := c.Query(key)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, &queryFormatError{param: key, expected: "integer"}
	}
	return &n, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	value := c.Query(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, &queryFormatError{param: key, expected: "RFC3339 timestamp"}
	}
	return &t, nil
}
