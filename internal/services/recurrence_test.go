package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 9, 30, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name string
		rule models.RecurrenceRule
		base time.Time
		want time.Time
	}{
		{"daily", models.RecurrenceDaily, date(2025, 3, 10), date(2025, 3, 11)},
		{"daily crosses month", models.RecurrenceDaily, date(2025, 1, 31), date(2025, 2, 1)},
		{"weekly", models.RecurrenceWeekly, date(2025, 12, 29), date(2026, 1, 5)},
		{"monthly", models.RecurrenceMonthly, date(2025, 3, 15), date(2025, 4, 15)},
		{"monthly clamps to february", models.RecurrenceMonthly, date(2025, 1, 31), date(2025, 2, 28)},
		{"monthly clamps in leap year", models.RecurrenceMonthly, date(2024, 1, 30), date(2024, 2, 29)},
		{"monthly clamps to 30 day month", models.RecurrenceMonthly, date(2025, 3, 31), date(2025, 4, 30)},
		{"monthly crosses year", models.RecurrenceMonthly, date(2025, 12, 31), date(2026, 1, 31)},
		{"yearly", models.RecurrenceYearly, date(2025, 6, 1), date(2026, 6, 1)},
		{"yearly from leap day", models.RecurrenceYearly, date(2024, 2, 29), date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.rule, tt.base)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextOccurrence_RejectsNoneAndUnknown(t *testing.T) {
	_, err := NextOccurrence(models.RecurrenceNone, date(2025, 1, 1))
	assert.ErrorIs(t, err, ErrNotRecurring)

	_, err = NextOccurrence(models.RecurrenceRule("hourly"), date(2025, 1, 1))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestAdvanceOccurrence_ReopensCompletedInstance(t *testing.T) {
	next := date(2025, 1, 31)
	completedAt := date(2025, 1, 30)
	task := &models.Task{
		Status:         models.TaskStatusCompleted,
		Progress:       100,
		CompletedAt:    &completedAt,
		Recurrence:     models.RecurrenceMonthly,
		NextOccurrence: &next,
	}

	c, err := advanceOccurrence(task, date(2025, 2, 1))
	require.NoError(t, err)

	assert.Equal(t, models.HistoryActionMovedToNextOccurrence, c.action)
	assert.Equal(t, models.TaskStatusRecurring, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Nil(t, task.CompletedAt)
	require.NotNil(t, task.NextOccurrence)
	assert.True(t, date(2025, 2, 28).Equal(*task.NextOccurrence))
	require.NotNil(t, task.LastOccurrence)
	assert.True(t, next.Equal(*task.LastOccurrence))
	assert.Equal(t, "2025-01-31T09:30:00Z", c.metadata["oldNextOccurrence"])
	assert.Equal(t, "2025-02-28T09:30:00Z", c.metadata["newNextOccurrence"])
}

func TestAdvanceOccurrence_FallsBackToDueDateThenNow(t *testing.T) {
	due := date(2025, 5, 10)
	task := &models.Task{Status: models.TaskStatusActive, Recurrence: models.RecurrenceWeekly, DueDate: &due}

	_, err := advanceOccurrence(task, date(2025, 6, 1))
	require.NoError(t, err)
	assert.True(t, date(2025, 5, 17).Equal(*task.NextOccurrence))
	assert.Equal(t, models.TaskStatusActive, task.Status)

	now := date(2025, 6, 1)
	bare := &models.Task{Status: models.TaskStatusRecurring, Recurrence: models.RecurrenceDaily}
	_, err = advanceOccurrence(bare, now)
	require.NoError(t, err)
	assert.True(t, date(2025, 6, 2).Equal(*bare.NextOccurrence))
	assert.True(t, now.Equal(*bare.LastOccurrence))
}

func TestAdvanceOccurrence_NotRecurring(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusActive, Recurrence: models.RecurrenceNone}

	_, err := advanceOccurrence(task, date(2025, 1, 1))
	assert.ErrorIs(t, err, ErrNotRecurring)
	assert.Nil(t, task.NextOccurrence)
}
