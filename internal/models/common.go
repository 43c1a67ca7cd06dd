package models

import "errors"

// APIResponse is the envelope the task API answers with. Message carries the
// backend's error text and is empty on success.
type APIResponse[T any] struct {
	Result  T      `json:"result"`
	Message string `json:"message,omitempty"`
}

// Err returns Message as an error, or nil when the backend reported none.
func (r APIResponse[T]) Err() error {
	if r.Message == "" {
		return nil
	}
	return errors.New(r.Message)
}
