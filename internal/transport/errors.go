package transport

import "errors"

var (
	ErrInvalidURL    = errors.New("invalid status endpoint url")
	ErrNotConnected  = errors.New("transport not connected")
	ErrClosed        = errors.New("transport closed")
	ErrSendQueueFull = errors.New("send queue full")
)
