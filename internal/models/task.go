package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusDraft     TaskStatus = "draft"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusBlocked   TaskStatus = "blocked"
	TaskStatusRecurring TaskStatus = "recurring"
	TaskStatusArchived  TaskStatus = "archived"
)

// TaskStatuses lists every status in declaration order.
var TaskStatuses = []TaskStatus{
	TaskStatusDraft,
	TaskStatusActive,
	TaskStatusCompleted,
	TaskStatusBlocked,
	TaskStatusRecurring,
	TaskStatusArchived,
}

func (s TaskStatus) IsValid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// TaskPriorities lists every priority from lowest to highest.
var TaskPriorities = []TaskPriority{
	TaskPriorityLow,
	TaskPriorityMedium,
	TaskPriorityHigh,
	TaskPriorityUrgent,
}

func (p TaskPriority) IsValid() bool {
	for _, v := range TaskPriorities {
		if p == v {
			return true
		}
	}
	return false
}

type RecurrenceRule string

const (
	RecurrenceNone    RecurrenceRule = "none"
	RecurrenceDaily   RecurrenceRule = "daily"
	RecurrenceWeekly  RecurrenceRule = "weekly"
	RecurrenceMonthly RecurrenceRule = "monthly"
	RecurrenceYearly  RecurrenceRule = "yearly"
)

func (r RecurrenceRule) IsValid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// Metadata keys written by the block/unblock actions
const (
	MetadataBlockedReason = "blockedReason"
	MetadataBlockedAt     = "blockedAt"
)

// Task is one node of the work-item tree. Hierarchy is expressed only through
// ParentID; children and ancestors are looked up by id.
type Task struct {
	ID             string                      `gorm:"type:varchar(36);primarykey" json:"id"`
	Title          string                      `gorm:"type:varchar(255);not null" json:"title"`
	Description    string                      `gorm:"type:text" json:"description"`
	Status         TaskStatus                  `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Progress       int                         `gorm:"not null;default:0" json:"progress"`
	Priority       TaskPriority                `gorm:"type:varchar(20);not null;default:'medium'" json:"priority"`
	DueDate        *time.Time                  `json:"due_date"`
	StartDate      *time.Time                  `json:"start_date"`
	CompletedAt    *time.Time                  `json:"completed_at"`
	ArchivedAt     *time.Time                  `json:"archived_at"`
	Recurrence     RecurrenceRule              `gorm:"type:varchar(20);not null;default:'none'" json:"recurrence"`
	NextOccurrence *time.Time                  `json:"next_occurrence"`
	LastOccurrence *time.Time                  `json:"last_occurrence"`
	ParentID       *string                     `gorm:"type:varchar(36)" json:"parent_id"`
	Level          int                         `gorm:"not null;default:0" json:"level"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	Metadata       datatypes.JSONMap           `json:"metadata"`
	EstimatedHours *float64                    `json:"estimated_hours"`
	ActualHours    float64                     `gorm:"not null;default:0" json:"actual_hours"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// BeforeCreate assigns a fresh identifier to tasks created without one.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool {
	return t.ParentID == nil || *t.ParentID == ""
}

// IsArchived reports whether the task is soft-deleted.
func (t *Task) IsArchived() bool {
	return t.Status == TaskStatusArchived || t.ArchivedAt != nil
}
