package subscription

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// eventLoop runs posted functions one at a time on a single goroutine.
// The queue is unbounded so posting never blocks, including from inside a
// running function.
type eventLoop struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newEventLoop(log zerolog.Logger) *eventLoop {
	return &eventLoop{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post queues fn and reports whether the loop accepted it.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *eventLoop) run() {
	defer close(l.done)

	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		if fn == nil {
			<-l.wake
			continue
		}
		l.execute(fn)
	}
}

func (l *eventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil, false
	}
	if len(l.queue) == 0 {
		return nil, true
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *eventLoop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("event handler panicked")
		}
	}()
	fn()
}

// stop discards queued functions and makes run return once the current
// function finishes. Safe to call from inside the loop.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}
