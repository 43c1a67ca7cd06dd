package models

// Event names exchanged with the status-push backend.
const (
	EventSubscribeTasks   = "subscribeTasks"
	EventUnsubscribeTasks = "unsubscribeTasks"
	EventTaskStatusUpdate = "taskStatusUpdate"
)

// TaskIDsPayload is the body of subscribeTasks and unsubscribeTasks.
type TaskIDsPayload struct {
	TaskIDs []TaskID `json:"taskIds"`
}

// AckPayload is the backend's acknowledgement of a subscribe or
// unsubscribe batch. Error is only set by subscribe acks.
type AckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
