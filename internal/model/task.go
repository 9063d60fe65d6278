package model

import (
	"strings"
	"time"
)

// TaskPriority ranks follow-up tasks.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "Low"
	PriorityMedium TaskPriority = "Medium"
	PriorityHigh   TaskPriority = "High"
)

// ParseTaskPriority normalizes a priority label; "" and unknown labels
// yield PriorityMedium.
func ParseTaskPriority(s string) TaskPriority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high", "urgent":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// TaskStatus is the completion state of a task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "Open"
	TaskCompleted TaskStatus = "Completed"
)

// Task is a follow-up item, typically created by a workflow.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	DueDate     time.Time    `json:"due_date"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	RelatedType EntityType   `json:"related_type"`
	RelatedID   string       `json:"related_id"`
	WorkflowID  string       `json:"workflow_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
