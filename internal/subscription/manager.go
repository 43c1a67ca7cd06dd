// Package subscription keeps a set of backend tasks subscribed over a
// persistent status channel. The Manager batches subscribe and unsubscribe
// requests, retries failed subscribes with exponential backoff, reconnects
// with a linear ladder and hands status updates to a single observer.
//
// All state is owned by one event loop goroutine. Public methods post to
// that loop and never block on the network.
package subscription

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/metrics"
	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/transport"
)

type Manager struct {
	cfg       Config
	clock     clock.Clock
	metrics   metrics.Collector
	log       zerolog.Logger
	transport transport.Transport

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	loop        *eventLoop
	disposeOnce sync.Once

	// Owned by the loop.
	disposed   bool
	registry   *registry
	conn       *connection
	dispatcher *dispatcher
}

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	State      ConnectionState
	Pending    []models.TaskID
	Subscribed []models.TaskID
}

// New creates a Manager on top of t and starts its event loop. Nothing is
// connected until the first task is reconciled.
func New(t transport.Transport, opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		clock:     clock.Real(),
		metrics:   metrics.NewNop(),
		log:       logger.Component("subscription"),
		transport: t,
		parent:    context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.ctx, m.cancel = context.WithCancel(m.parent)
	m.loop = newEventLoop(m.log)
	m.registry = newRegistry(m)
	m.conn = newConnection(m)
	m.dispatcher = newDispatcher(m)

	go m.loop.run()
	return m
}

// post runs fn on the loop unless the manager was disposed, then publishes
// the tracked task gauges.
func (m *Manager) post(fn func()) {
	m.loop.post(func() {
		if m.disposed {
			return
		}
		fn()
		if !m.disposed {
			m.metrics.SetTracked(m.registry.counts())
		}
	})
}

// Reconcile makes the tracked set equal to active: new ids are subscribed
// and tracked ids missing from active are unsubscribed.
func (m *Manager) Reconcile(active []models.TaskID) {
	ids := append([]models.TaskID(nil), active...)
	m.post(func() { m.reconcile(ids) })
}

// Subscribe starts tracking ids that are not tracked yet.
func (m *Manager) Subscribe(ids ...models.TaskID) {
	ids = append([]models.TaskID(nil), ids...)
	m.post(func() { m.registry.subscribe(ids) })
}

// Unsubscribe stops tracking ids. Only subscribed tasks are unsubscribed
// from the backend while connected.
func (m *Manager) Unsubscribe(ids ...models.TaskID) {
	ids = append([]models.TaskID(nil), ids...)
	m.post(func() { m.registry.unsubscribe(ids) })
}

// OnStatusUpdate replaces the observer. A nil fn discards updates.
func (m *Manager) OnStatusUpdate(fn StatusFunc) {
	m.post(func() { m.dispatcher.observer = fn })
}

// Sync blocks until everything posted before it has been processed.
func (m *Manager) Sync() {
	done := make(chan struct{})
	if !m.loop.post(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-m.loop.done:
	}
}

// Snapshot returns the connection state and the tracked tasks. A disposed
// manager reports an empty Disconnected snapshot.
func (m *Manager) Snapshot() Snapshot {
	result := make(chan Snapshot, 1)
	posted := m.loop.post(func() {
		if m.disposed {
			result <- Snapshot{}
			return
		}
		pending, subscribed := m.registry.snapshot()
		result <- Snapshot{State: m.conn.state, Pending: pending, Subscribed: subscribed}
	})
	if !posted {
		return Snapshot{}
	}

	select {
	case s := <-result:
		return s
	case <-m.loop.done:
		return Snapshot{}
	}
}

func (m *Manager) State() ConnectionState {
	return m.Snapshot().State
}

// Dispose cancels every timer, closes the channel, drops the observer and
// stops the loop. Later callbacks are ignored. It is idempotent and blocks
// until teardown completes, so it must not be called from a StatusFunc.
func (m *Manager) Dispose() {
	m.disposeOnce.Do(func() {
		if m.loop.post(m.teardown) {
			<-m.loop.done
		}
		m.cancel()
	})
}

func (m *Manager) teardown() {
	if m.disposed {
		return
	}
	m.disposed = true

	m.registry.clear()
	m.conn.stopTimer()
	m.conn.epoch++
	m.transport.Close()
	m.conn.state = Disconnected
	m.dispatcher.observer = nil

	m.metrics.SetTracked(0, 0)
	m.metrics.SetConnectionState(Disconnected.String())
	m.log.Debug().Msg("subscription manager disposed")

	m.loop.stop()
}
