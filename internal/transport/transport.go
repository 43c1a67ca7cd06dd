// Package transport carries named messages between taskwatch and the
// status-push backend over one bidirectional connection.
//
// A Transport is connected asynchronously: Connect returns once the attempt
// has started and the outcome is reported through the Handler. Outbound
// messages may ask for an acknowledgement, which is correlated by frame id
// and delivered to the AckFunc.
package transport

import (
	"context"
	"encoding/json"
)

// Handler receives connection lifecycle events and inbound messages. Calls
// may come from transport goroutines; implementations must not block.
type Handler interface {
	HandleOpen()
	HandleClose(err error)
	HandleEvent(event string, data json.RawMessage)
}

// AckFunc receives the acknowledgement payload of an emitted message, or the
// error that prevented one from arriving.
type AckFunc func(data json.RawMessage, err error)

type Transport interface {
	// Connect starts a connection attempt reporting to h. An error means
	// the attempt could not be started at all.
	Connect(ctx context.Context, h Handler) error

	// Emit queues a named message. ack may be nil.
	Emit(event string, payload any, ack AckFunc) error

	// Close tears the connection down. The Handler and any outstanding
	// AckFuncs are released first and never called afterwards.
	Close() error
}

type FrameType string

const (
	FrameEvent FrameType = "event"
	FrameAck   FrameType = "ack"
)

// Frame is the JSON envelope of every websocket text message.
type Frame struct {
	Type  FrameType       `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}
