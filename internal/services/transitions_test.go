package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

var transitionNow = time.Date(2025, 8, 20, 15, 0, 0, 0, time.UTC)

func TestToggleCompletion_RoundTrip(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusActive, Progress: 35}

	c, err := toggleCompletion(task, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionCompleted, c.action)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.CompletedAt)

	c, err = toggleCompletion(task, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionReopened, c.action)
	assert.Equal(t, models.TaskStatusActive, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, "completed", c.metadata["oldStatus"])
	assert.Equal(t, "active", c.metadata["newStatus"])
}

func TestToggleCompletion_RejectsOtherStatuses(t *testing.T) {
	for _, status := range []models.TaskStatus{
		models.TaskStatusDraft,
		models.TaskStatusBlocked,
		models.TaskStatusRecurring,
		models.TaskStatusArchived,
	} {
		task := &models.Task{Status: status, Progress: 20}
		_, err := toggleCompletion(task, transitionNow)
		assert.ErrorIs(t, err, ErrInvalidTransition, status)
		assert.Equal(t, status, task.Status)
		assert.Equal(t, 20, task.Progress)
	}
}

func TestBlockUnblock(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusActive}

	c, err := blockTask(task, "waiting on vendor", transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, task.Status)
	assert.Equal(t, "waiting on vendor", task.Metadata[models.MetadataBlockedReason])
	assert.Equal(t, "2025-08-20T15:00:00Z", task.Metadata[models.MetadataBlockedAt])
	assert.Equal(t, "waiting on vendor", c.metadata["reason"])

	_, err = blockTask(task, "again", transitionNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	c, err = unblockTask(task)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusActive, task.Status)
	assert.NotContains(t, task.Metadata, models.MetadataBlockedReason)
	assert.NotContains(t, task.Metadata, models.MetadataBlockedAt)
	assert.Equal(t, "waiting on vendor", c.metadata["previousReason"])

	_, err = unblockTask(task)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBlock_WithoutReasonFromDraft(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusDraft}

	c, err := blockTask(task, "", transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, task.Status)
	assert.NotContains(t, task.Metadata, models.MetadataBlockedReason)
	assert.NotContains(t, c.metadata, "reason")
}

func TestArchiveUnarchive(t *testing.T) {
	completedAt := transitionNow.Add(-time.Hour)
	task := &models.Task{Status: models.TaskStatusCompleted, Progress: 100, CompletedAt: &completedAt}

	_, err := archiveTask(task, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusArchived, task.Status)
	require.NotNil(t, task.ArchivedAt)
	assert.Nil(t, task.CompletedAt)

	_, err = archiveTask(task, transitionNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = unarchiveTask(task, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Nil(t, task.ArchivedAt)
	require.NotNil(t, task.CompletedAt)

	partial := &models.Task{Status: models.TaskStatusArchived, Progress: 60, ArchivedAt: &transitionNow}
	_, err = unarchiveTask(partial, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusActive, partial.Status)
	assert.Nil(t, partial.CompletedAt)

	_, err = unarchiveTask(partial, transitionNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestArchive_RejectsDraft(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusDraft}

	_, err := archiveTask(task, transitionNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, task.ArchivedAt)
}

func TestSetStatus_KeepsTimestampsConsistent(t *testing.T) {
	task := &models.Task{Status: models.TaskStatusActive, Progress: 40}

	setStatus(task, models.TaskStatusCompleted, transitionNow)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.CompletedAt)

	setStatus(task, models.TaskStatusArchived, transitionNow)
	assert.Nil(t, task.CompletedAt)
	require.NotNil(t, task.ArchivedAt)

	setStatus(task, models.TaskStatusDraft, transitionNow)
	assert.Nil(t, task.ArchivedAt)
	assert.Equal(t, models.TaskStatusDraft, task.Status)
}
