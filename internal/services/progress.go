package services

import (
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

// roundHalfUp returns sum/n rounded to the nearest integer, halves rounding
// up. Both arguments are non-negative and n is positive.
func roundHalfUp(sum, n int64) int {
	return int((2*sum + n) / (2 * n))
}

// ChildProgress returns the rounded mean progress of children. ok is false
// when there are no children to aggregate.
func ChildProgress(children []models.Task) (progress int, ok bool) {
	if len(children) == 0 {
		return 0, false
	}

	var sum int64
	for _, child := range children {
		sum += int64(child.Progress)
	}

	return roundHalfUp(sum, int64(len(children))), true
}

// applyChildProgress derives task's progress from its direct children. An
// active task reaching 100 is completed; other statuses are never changed.
func applyChildProgress(task *models.Task, children []models.Task, now time.Time) *change {
	progress, ok := ChildProgress(children)
	if !ok {
		return nil
	}

	oldProgress := task.Progress
	oldStatus := task.Status

	task.Progress = progress
	if progress == 100 && task.Status == models.TaskStatusActive {
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &now
	}

	return &change{
		action: models.HistoryActionProgressRecalculated,
		metadata: map[string]any{
			"oldProgress": oldProgress,
			"newProgress": task.Progress,
			"oldStatus":   string(oldStatus),
			"newStatus":   string(task.Status),
			"childCount":  len(children),
		},
	}
}
