package models

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a collaboration task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending_target_processing"
	TaskProcessing TaskStatus = "processing_by_target"
	TaskComplete   TaskStatus = "target_processing_complete"
	TaskFailed     TaskStatus = "target_processing_failed"
	TaskDelivered  TaskStatus = "response_received_by_requester"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{TaskPending, TaskProcessing, TaskComplete, TaskFailed, TaskDelivered}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing},
	TaskProcessing: {TaskComplete, TaskFailed, TaskPending},
	TaskComplete:   {TaskDelivered},
	TaskFailed:     {TaskPending},
}

// ParseTaskStatus validates s as a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, ok := taskTransitions[st]; ok || st == TaskDelivered {
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Deliverable reports whether the requester's poller should pick the task up.
func (s TaskStatus) Deliverable() bool {
	return s == TaskComplete || s == TaskFailed
}

// CollaborationTask is one asynchronous query from a requester MindOp to a
// target MindOp.
type CollaborationTask struct {
	ID                string     `json:"id"`
	RequesterMindOpID string     `json:"requester_mindop_id"`
	TargetMindOpID    string     `json:"target_mindop_id"`
	Query             string     `json:"query"`
	Status            TaskStatus `json:"status"`
	Response          *string    `json:"response,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	Metadata          Metadata   `json:"metadata,omitempty"`
	Attempts          int        `json:"attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskUpdate describes the columns written by a status transition. Nil
// pointers leave the stored value unchanged.
type TaskUpdate struct {
	Status            TaskStatus
	Response          *string
	ErrorMessage      *string
	ClearError        bool
	Metadata          Metadata
	IncrementAttempts bool
}

// TaskFilter narrows a collaboration task listing.
type TaskFilter struct {
	RequesterMindOpID string
	TargetMindOpID    string
	Statuses          []TaskStatus
	Limit             int
}

// TaskRole selects which side of a collaboration a listing is for.
type TaskRole string

const (
	TaskRoleRequester TaskRole = "requester"
	TaskRoleTarget    TaskRole = "target"
)
