package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves on Advance. AfterFunc
// callbacks run synchronously inside Advance, in deadline order.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time

	// callback is set for AfterFunc waiters; channel and interval for
	// tickers.
	callback func()
	channel  chan time.Time
	interval time.Duration

	stopped bool
	fired   bool
}

// NewFake returns a FakeClock set to initial.
func NewFake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, waiter: &fakeWaiter{fired: true}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	return &fakeTicker{clock: c, waiter: w}
}

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline falls inside the window. Callbacks may schedule new timers; those
// fire too if they fall inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		w := c.nextDueLocked(target)
		if w == nil {
			break
		}
		c.current = w.deadline

		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			select {
			case w.channel <- c.current:
			default:
			}
			continue
		}

		w.fired = true
		callback := w.callback
		c.mu.Unlock()
		callback()
		c.mu.Lock()
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// PendingTimers returns the remaining durations of live AfterFunc timers,
// shortest first. Tickers are not included.
func (c *FakeClock) PendingTimers() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Duration
	for _, w := range c.waiters {
		if w.interval == 0 && !w.stopped && !w.fired {
			out = append(out, w.deadline.Sub(c.current))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var next *fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired || w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) {
			next = w
		}
	}
	return next
}

func (c *FakeClock) compactLocked() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	for i := len(live); i < len(c.waiters); i++ {
		c.waiters[i] = nil
	}
	c.waiters = live
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.channel }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
}
