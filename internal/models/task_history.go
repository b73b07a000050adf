package models

import (
	"time"

	"gorm.io/datatypes"
)

type HistoryAction string

const (
	HistoryActionCreated               HistoryAction = "created"
	HistoryActionUpdated               HistoryAction = "updated"
	HistoryActionCompleted             HistoryAction = "completed"
	HistoryActionReopened              HistoryAction = "reopened"
	HistoryActionBlocked               HistoryAction = "blocked"
	HistoryActionUnblocked             HistoryAction = "unblocked"
	HistoryActionArchived              HistoryAction = "archived"
	HistoryActionUnarchived            HistoryAction = "unarchived"
	HistoryActionMovedToNextOccurrence HistoryAction = "moved_to_next_occurrence"
	HistoryActionProgressRecalculated  HistoryAction = "progress_recalculated"
	HistoryActionDeleted               HistoryAction = "deleted"
)

// TaskHistory is an immutable audit record of one action on one task.
// Status and Progress are snapshots taken right after the action.
type TaskHistory struct {
	ID        uint64            `gorm:"primarykey" json:"id"`
	TaskID    string            `gorm:"type:varchar(36);not null" json:"task_id"`
	Action    HistoryAction     `gorm:"type:varchar(50);not null" json:"action"`
	Status    TaskStatus        `gorm:"type:varchar(20);not null" json:"status"`
	Progress  int               `gorm:"not null" json:"progress"`
	Duration  *int64            `json:"duration,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	ActorID   *string           `gorm:"type:varchar(64)" json:"actor_id,omitempty"`
	Note      string            `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
}
