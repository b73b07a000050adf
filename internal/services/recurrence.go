package services

import (
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

// NextOccurrence advances base by exactly one unit of rule.
//
// Monthly and yearly steps clamp to the end of the target month when the base
// day does not exist there: 2025-01-31 monthly is 2025-02-28, 2024-02-29
// yearly is 2025-02-28. Time of day and location are kept.
func NextOccurrence(rule models.RecurrenceRule, base time.Time) (time.Time, error) {
	switch rule {
	case models.RecurrenceDaily:
		return base.AddDate(0, 0, 1), nil
	case models.RecurrenceWeekly:
		return base.AddDate(0, 0, 7), nil
	case models.RecurrenceMonthly:
		return addMonthsClamped(base, 1), nil
	case models.RecurrenceYearly:
		return addMonthsClamped(base, 12), nil
	case models.RecurrenceNone:
		return time.Time{}, ErrNotRecurring
	default:
		return time.Time{}, ErrInvalidRecurrence
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())

	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}

	return time.Date(target.Year(), target.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// recurrenceBase picks the date the next occurrence is computed from
func recurrenceBase(task *models.Task, now time.Time) time.Time {
	switch {
	case task.NextOccurrence != nil:
		return *task.NextOccurrence
	case task.DueDate != nil:
		return *task.DueDate
	default:
		return now
	}
}

// advanceOccurrence moves a recurring task to its next occurrence. A
// completed instance is reopened as recurring with zero progress.
func advanceOccurrence(task *models.Task, now time.Time) (*change, error) {
	if task.Recurrence == models.RecurrenceNone || task.Recurrence == "" {
		return nil, ErrNotRecurring
	}

	next, err := NextOccurrence(task.Recurrence, recurrenceBase(task, now))
	if err != nil {
		return nil, err
	}

	previous := task.NextOccurrence
	last := now
	if previous != nil {
		last = *previous
	}
	oldStatus := task.Status

	task.LastOccurrence = &last
	task.NextOccurrence = &next

	if task.Status == models.TaskStatusCompleted {
		task.Status = models.TaskStatusRecurring
		task.Progress = 0
		task.CompletedAt = nil
	}

	metadata := map[string]any{
		"recurrence":        string(task.Recurrence),
		"oldNextOccurrence": formatTime(previous),
		"newNextOccurrence": formatTime(&next),
		"oldStatus":         string(oldStatus),
		"newStatus":         string(task.Status),
	}

	return &change{action: models.HistoryActionMovedToNextOccurrence, metadata: metadata}, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
