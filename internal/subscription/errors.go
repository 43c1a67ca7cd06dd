package subscription

import (
	"encoding/json"
	"fmt"

	"github.com/kelsos/taskwatch/internal/models"
)

// AckError is a negative or unreadable acknowledgement from the backend.
type AckError struct {
	Reason string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("backend rejected batch: %s", e.Reason)
}

// decodeAck turns an acknowledgement into nil on success, the transport
// error when delivery failed, or an *AckError.
func decodeAck(data json.RawMessage, err error) error {
	if err != nil {
		return err
	}

	var ack models.AckPayload
	if err := json.Unmarshal(data, &ack); err != nil {
		return &AckError{Reason: fmt.Sprintf("malformed ack: %v", err)}
	}
	if !ack.Success {
		reason := ack.Error
		if reason == "" {
			reason = "unspecified"
		}
		return &AckError{Reason: reason}
	}
	return nil
}
