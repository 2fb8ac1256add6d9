package models

import "time"

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskError    TaskStatus = "error"
)

// Terminal reports whether the task has finished, successfully or not.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskError
}

// Task tracks a long-running operation (import, export, reindex) executed
// on a background worker.
type Task struct {
	ID        string     `json:"task_id"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Percent   float64    `json:"percent"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProgressEvent is one frame on the SSE progress stream.
type ProgressEvent struct {
	Event   string  `json:"event"` // "progress", "complete", "error"
	TaskID  string  `json:"task_id"`
	Percent float64 `json:"percent,omitempty"`
	Message string  `json:"message,omitempty"`
}
