package subscription

import (
	"encoding/json"
	"runtime/debug"

	"github.com/kelsos/taskwatch/internal/models"
)

// StatusFunc receives status updates for subscribed tasks. It runs on the
// manager's event loop and may call Reconcile or OnStatusUpdate, but not
// Dispose.
type StatusFunc func(id models.TaskID, status models.TaskStatus, record json.RawMessage)

// Reasons for discarding an inbound update.
const (
	discardMalformed     = "malformed"
	discardUntracked     = "untracked"
	discardNotSubscribed = "not_subscribed"
)

type dispatcher struct {
	mgr      *Manager
	observer StatusFunc
}

func newDispatcher(m *Manager) *dispatcher {
	return &dispatcher{mgr: m}
}

func (d *dispatcher) handleEvent(epoch uint64, event string, data json.RawMessage) {
	if epoch != d.mgr.conn.epoch {
		return
	}

	switch event {
	case models.EventTaskStatusUpdate:
		d.handleStatusUpdate(data)
	default:
		d.mgr.log.Debug().Str("event", event).Msg("ignoring unknown event")
	}
}

func (d *dispatcher) handleStatusUpdate(data json.RawMessage) {
	var update models.StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		d.discard(discardMalformed, update.TaskID)
		return
	}
	if update.TaskID == "" || !update.Status.Valid() {
		d.discard(discardMalformed, update.TaskID)
		return
	}

	sub, ok := d.mgr.registry.entries[update.TaskID]
	if !ok {
		d.discard(discardUntracked, update.TaskID)
		return
	}
	if sub.state != stateSubscribed || sub.unsubscribing {
		d.discard(discardNotSubscribed, update.TaskID)
		return
	}

	d.mgr.metrics.StatusUpdate(string(update.Status))
	d.mgr.log.Debug().Str("task_id", string(update.TaskID)).Str("status", string(update.Status)).Msg("status update")

	if d.observer != nil {
		d.notify(d.observer, update)
	}

	if update.Status.Terminal() {
		d.mgr.registry.unsubscribe([]models.TaskID{update.TaskID})
	}
}

func (d *dispatcher) notify(fn StatusFunc, update models.StatusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			d.mgr.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
				Str("task_id", string(update.TaskID)).Msg("status observer panicked")
		}
	}()
	fn(update.TaskID, update.Status, update.Record)
}

func (d *dispatcher) discard(reason string, id models.TaskID) {
	d.mgr.metrics.UpdateDiscarded(reason)
	d.mgr.log.Warn().Str("reason", reason).Str("task_id", string(id)).Msg("discarding status update")
}
