// Package clock abstracts the time operations used by the subscription
// manager and the poller so tests can drive retries and reconnects
// deterministically.
package clock

import "time"

// Clock is implemented by Real and by *FakeClock.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (Real) or synchronously
	// during Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks on the returned channel every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable AfterFunc.
type Timer interface {
	// Stop returns true if the call prevented the function from running.
	Stop() bool
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t realTicker) C() <-chan time.Time { return t.ticker.C }

func (t realTicker) Stop() { t.ticker.Stop() }
