package models

import (
	"encoding/json"
	"time"
)

// TaskID identifies a video generation job. The backend treats it as opaque.
type TaskID string

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the statuses the backend pushes.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusGenerating, TaskStatusDone, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further updates are expected after s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Task is a job as listed by the REST API.
type Task struct {
	ID        TaskID     `json:"id"`
	Status    TaskStatus `json:"status"`
	Prompt    string     `json:"prompt,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type TasksResponse = APIResponse[[]Task]

type TaskResponse = APIResponse[Task]

// StatusUpdate is the payload of an inbound taskStatusUpdate push. Record is
// the backend's job record and is passed through untouched.
type StatusUpdate struct {
	TaskID TaskID          `json:"taskId"`
	Status TaskStatus      `json:"status"`
	Record json.RawMessage `json:"record,omitempty"`
}
