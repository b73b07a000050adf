package services

import (
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

// change describes the history entry produced by one mutation
type change struct {
	action   models.HistoryAction
	metadata map[string]any
	note     string
}

func statusChange(action models.HistoryAction, oldStatus models.TaskStatus, task *models.Task) *change {
	return &change{
		action: action,
		metadata: map[string]any{
			"oldStatus": string(oldStatus),
			"newStatus": string(task.Status),
		},
	}
}

// toggleCompletion flips active (progress 0) and completed (progress 100).
// Every other status is rejected.
func toggleCompletion(task *models.Task, now time.Time) (*change, error) {
	oldStatus := task.Status

	switch task.Status {
	case models.TaskStatusActive:
		task.Status = models.TaskStatusCompleted
		task.Progress = 100
		task.CompletedAt = &now
		return statusChange(models.HistoryActionCompleted, oldStatus, task), nil
	case models.TaskStatusCompleted:
		task.Status = models.TaskStatusActive
		task.Progress = 0
		task.CompletedAt = nil
		return statusChange(models.HistoryActionReopened, oldStatus, task), nil
	default:
		return nil, ErrInvalidTransition
	}
}

// blockTask moves a draft or active task to blocked and records why and when
// in the task metadata.
func blockTask(task *models.Task, reason string, now time.Time) (*change, error) {
	if task.Status != models.TaskStatusActive && task.Status != models.TaskStatusDraft {
		return nil, ErrInvalidTransition
	}

	oldStatus := task.Status
	task.Status = models.TaskStatusBlocked

	if task.Metadata == nil {
		task.Metadata = map[string]interface{}{}
	}
	if reason != "" {
		task.Metadata[models.MetadataBlockedReason] = reason
	} else {
		delete(task.Metadata, models.MetadataBlockedReason)
	}
	task.Metadata[models.MetadataBlockedAt] = now.UTC().Format(time.RFC3339)

	c := statusChange(models.HistoryActionBlocked, oldStatus, task)
	if reason != "" {
		c.metadata["reason"] = reason
	}
	return c, nil
}

// unblockTask returns a blocked task to active and clears the block markers
func unblockTask(task *models.Task) (*change, error) {
	if task.Status != models.TaskStatusBlocked {
		return nil, ErrInvalidTransition
	}

	oldStatus := task.Status
	task.Status = models.TaskStatusActive

	var reason any
	if task.Metadata != nil {
		reason = task.Metadata[models.MetadataBlockedReason]
		delete(task.Metadata, models.MetadataBlockedReason)
		delete(task.Metadata, models.MetadataBlockedAt)
	}

	c := statusChange(models.HistoryActionUnblocked, oldStatus, task)
	if reason != nil {
		c.metadata["previousReason"] = reason
	}
	return c, nil
}

// archiveTask soft-deletes an active, completed, blocked or recurring task
func archiveTask(task *models.Task, now time.Time) (*change, error) {
	switch task.Status {
	case models.TaskStatusActive, models.TaskStatusCompleted, models.TaskStatusBlocked, models.TaskStatusRecurring:
	default:
		return nil, ErrInvalidTransition
	}

	oldStatus := task.Status
	task.Status = models.TaskStatusArchived
	task.ArchivedAt = &now
	task.CompletedAt = nil

	return statusChange(models.HistoryActionArchived, oldStatus, task), nil
}

// unarchiveTask restores an archived task to completed when its progress is
// 100 and to active otherwise
func unarchiveTask(task *models.Task, now time.Time) (*change, error) {
	if task.Status != models.TaskStatusArchived {
		return nil, ErrInvalidTransition
	}

	oldStatus := task.Status
	task.ArchivedAt = nil
	if task.Progress >= 100 {
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &now
	} else {
		task.Status = models.TaskStatusActive
	}

	return statusChange(models.HistoryActionUnarchived, oldStatus, task), nil
}

// setStatus applies a status chosen through update, keeping the completion
// and archive timestamps consistent with it
func setStatus(task *models.Task, status models.TaskStatus, now time.Time) {
	if task.Status == status {
		return
	}

	if status == models.TaskStatusCompleted {
		task.CompletedAt = &now
		task.Progress = 100
	} else {
		task.CompletedAt = nil
	}

	if status == models.TaskStatusArchived {
		task.ArchivedAt = &now
	} else {
		task.ArchivedAt = nil
	}

	task.Status = status
}
