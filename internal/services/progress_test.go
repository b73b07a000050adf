package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

func withProgress(values ...int) []models.Task {
	tasks := make([]models.Task, len(values))
	for i, v := range values {
		tasks[i] = models.Task{Progress: v}
	}
	return tasks
}

func TestChildProgress(t *testing.T) {
	tests := []struct {
		name     string
		children []models.Task
		want     int
	}{
		{"single child", withProgress(40), 40},
		{"exact mean", withProgress(0, 50, 100), 50},
		{"rounds half up", withProgress(0, 1), 1},
		{"rounds down below half", withProgress(0, 0, 1), 0},
		{"rounds up above half", withProgress(33, 34), 34},
		{"all done", withProgress(100, 100), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ChildProgress(tt.children)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ChildProgress(nil)
	assert.False(t, ok)
}

func TestApplyChildProgress_CompletesActiveTaskAt100(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	task := &models.Task{Status: models.TaskStatusActive, Progress: 10}

	c := applyChildProgress(task, withProgress(100, 100), now)
	require.NotNil(t, c)

	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, now.Equal(*task.CompletedAt))
	assert.Equal(t, 10, c.metadata["oldProgress"])
	assert.Equal(t, 2, c.metadata["childCount"])
}

func TestApplyChildProgress_LeavesOtherStatuses(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusBlocked}

	c := applyChildProgress(task, withProgress(100), time.Now())
	require.NotNil(t, c)

	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, models.TaskStatusBlocked, task.Status)
	assert.Nil(t, task.CompletedAt)
}

func TestApplyChildProgress_NoChildren(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusActive, Progress: 30}

	assert.Nil(t, applyChildProgress(task, nil, time.Now()))
	assert.Equal(t, 30, task.Progress)
}

func TestApplyChildProgress_Idempotent(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusDraft}
	children := withProgress(20, 45, 70)

	applyChildProgress(task, children, time.Now())
	first := task.Progress
	applyChildProgress(task, children, time.Now())

	assert.Equal(t, 45, first)
	assert.Equal(t, first, task.Progress)
}
