// Package metrics records subscription manager activity. The manager talks
// to the Collector interface; NewNop discards everything and NewPrometheus
// exports it.
package metrics

import "time"

// Batch kinds.
const (
	KindSubscribe   = "subscribe"
	KindUnsubscribe = "unsubscribe"
)

type Collector interface {
	BatchSent(kind string, size int)
	AckFailed(kind string)
	RetryScheduled(delay time.Duration)
	TaskDropped()
	ReconnectAttempt()
	StatusUpdate(status string)
	UpdateDiscarded(reason string)
	SetTracked(pending, subscribed int)
	SetConnectionState(state string)
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) BatchSent(string, int) {}
func (Nop) AckFailed(string) {}
func (Nop) RetryScheduled(time.Duration) {}
func (Nop) TaskDropped() {}
func (Nop) ReconnectAttempt() {}
func (Nop) StatusUpdate(string) {}
func (Nop) UpdateDiscarded(string) {}
func (Nop) SetTracked(int, int) {}
func (Nop) SetConnectionState(string) {}
