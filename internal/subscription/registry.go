package subscription

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/metrics"
	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/transport"
)

type taskSubscription struct {
	id         models.TaskID
	state      subState
	retryCount int
	retry      *retryTimer

	// inFlight is set while a subscribe batch containing the task awaits
	// its ack; unsubscribing while an unsubscribe batch does.
	inFlight      bool
	unsubscribing bool
}

// retryTimer is shared by every task of one failed batch that has the same
// backoff delay. It is stopped once no member still waits on it.
type retryTimer struct {
	timer   clock.Timer
	members []*taskSubscription
	live    int
}

// registry tracks every task the process wants updates for. It is only
// touched from the manager's event loop.
type registry struct {
	mgr     *Manager
	entries map[models.TaskID]*taskSubscription
}

func newRegistry(m *Manager) *registry {
	return &registry{mgr: m, entries: make(map[models.TaskID]*taskSubscription)}
}

func (r *registry) tracked(id models.TaskID) bool {
	_, ok := r.entries[id]
	return ok
}

func (r *registry) counts() (pending, subscribed int) {
	for _, sub := range r.entries {
		if sub.state == stateSubscribed {
			subscribed++
		} else {
			pending++
		}
	}
	return pending, subscribed
}

// subscribe adds untracked ids as Pending and sends them when connected.
// Otherwise it starts a connection, which also revives a channel that gave
// up reconnecting.
func (r *registry) subscribe(ids []models.TaskID) {
	added := 0
	for _, id := range ids {
		if id == "" || r.tracked(id) {
			continue
		}
		r.entries[id] = &taskSubscription{id: id, state: statePending}
		added++
	}
	if len(r.entries) == 0 {
		return
	}
	if added > 0 {
		r.mgr.log.Debug().Int("added", added).Msg("tracking new tasks")
	}

	if r.mgr.conn.state == Connected {
		if added > 0 {
			r.flush(false)
		}
		return
	}
	r.mgr.conn.connect()
}

// flush sends every Pending task that is not already in flight. With force
// set, armed retry timers are cancelled and their tasks sent as well;
// otherwise tasks waiting on a retry are left alone.
func (r *registry) flush(force bool) {
	var batch []*taskSubscription
	for _, sub := range r.entries {
		if sub.state != statePending || sub.inFlight {
			continue
		}
		if sub.retry != nil {
			if !force {
				continue
			}
			r.cancelRetry(sub)
		}
		batch = append(batch, sub)
	}
	if len(batch) == 0 {
		return
	}
	r.sendSubscribe(batch)
}

// flushOnConnect runs when the channel opens.
func (r *registry) flushOnConnect() {
	if len(r.entries) == 0 {
		r.mgr.conn.disconnect()
		return
	}
	r.flush(true)
}

func (r *registry) sendSubscribe(batch []*taskSubscription) {
	sortSubs(batch)
	ids := make([]models.TaskID, len(batch))
	for i, sub := range batch {
		sub.inFlight = true
		ids[i] = sub.id
	}

	epoch := r.mgr.conn.epoch
	err := r.mgr.transport.Emit(models.EventSubscribeTasks, models.TaskIDsPayload{TaskIDs: ids},
		func(data json.RawMessage, err error) {
			r.mgr.post(func() { r.handleSubscribeAck(epoch, batch, data, err) })
		})
	if err != nil {
		r.mgr.log.Warn().Err(err).Int("tasks", len(ids)).Msg("failed to send subscribe batch")
		r.handleSubscribeAck(epoch, batch, nil, err)
		return
	}

	r.mgr.metrics.BatchSent(metrics.KindSubscribe, len(ids))
	r.mgr.log.Debug().Interface("tasks", ids).Msg("subscribe batch sent")
}

func (r *registry) handleSubscribeAck(epoch uint64, batch []*taskSubscription, data json.RawMessage, err error) {
	if epoch != r.mgr.conn.epoch {
		r.mgr.log.Debug().Uint64("epoch", epoch).Msg("ignoring subscribe ack from previous connection")
		return
	}

	var live []*taskSubscription
	for _, sub := range batch {
		if r.entries[sub.id] != sub || sub.state != statePending {
			continue
		}
		sub.inFlight = false
		live = append(live, sub)
	}
	if len(live) == 0 || errors.Is(err, transport.ErrClosed) {
		// A closed channel is handled by the close handler, which resends
		// everything on reconnect.
		return
	}

	result := decodeAck(data, err)
	if result == nil {
		for _, sub := range live {
			r.cancelRetry(sub)
			sub.state = stateSubscribed
			sub.retryCount = 0
		}
		r.mgr.log.Debug().Int("tasks", len(live)).Msg("subscribe acknowledged")
		return
	}

	r.mgr.metrics.AckFailed(metrics.KindSubscribe)
	r.mgr.log.Warn().Err(result).Int("tasks", len(live)).Msg("subscribe failed")
	r.scheduleRetry(live)
}

// scheduleRetry arms one timer per backoff delay for tasks with budget left
// and drops the rest.
func (r *registry) scheduleRetry(subs []*taskSubscription) {
	groups := make(map[time.Duration][]*taskSubscription)
	dropped := 0
	for _, sub := range subs {
		if sub.retryCount >= r.mgr.cfg.MaxRetries {
			r.mgr.log.Error().Str("task_id", string(sub.id)).Int("retries", sub.retryCount).
				Msg("giving up on task after repeated subscribe failures")
			r.remove(sub)
			r.mgr.metrics.TaskDropped()
			dropped++
			continue
		}
		delay := retryDelay(r.mgr.cfg.BaseRetryDelay, sub.retryCount)
		sub.retryCount++
		groups[delay] = append(groups[delay], sub)
	}

	for delay, members := range groups {
		rt := &retryTimer{members: members, live: len(members)}
		for _, sub := range members {
			r.cancelRetry(sub)
			sub.retry = rt
		}
		rt.timer = r.mgr.clock.AfterFunc(delay, func() {
			r.mgr.post(func() { r.fireRetry(rt) })
		})
		r.mgr.metrics.RetryScheduled(delay)
		r.mgr.log.Debug().Dur("delay", delay).Int("tasks", len(members)).Msg("subscribe retry scheduled")
	}

	if dropped > 0 {
		r.releaseIfEmpty()
	}
}

// fireRetry resends the members of rt that are still Pending and still
// waiting on rt. When the channel is down they are left for the on-connect
// flush.
func (r *registry) fireRetry(rt *retryTimer) {
	var batch []*taskSubscription
	for _, sub := range rt.members {
		if r.entries[sub.id] != sub || sub.retry != rt {
			continue
		}
		sub.retry = nil
		if sub.state == statePending && !sub.inFlight {
			batch = append(batch, sub)
		}
	}
	rt.live = 0

	if len(batch) == 0 || r.mgr.conn.state != Connected {
		return
	}
	r.sendSubscribe(batch)
}

func (r *registry) cancelRetry(sub *taskSubscription) {
	rt := sub.retry
	if rt == nil {
		return
	}
	sub.retry = nil
	rt.live--
	if rt.live <= 0 && rt.timer != nil {
		rt.timer.Stop()
	}
}

// unsubscribe stops tracking ids. While connected only Subscribed tasks are
// sent and they stay tracked until acknowledged; while disconnected tracked
// tasks are dropped locally.
func (r *registry) unsubscribe(ids []models.TaskID) {
	if r.mgr.conn.state != Connected {
		removed := 0
		for _, id := range ids {
			if sub, ok := r.entries[id]; ok {
				r.remove(sub)
				removed++
			}
		}
		if removed > 0 {
			r.mgr.log.Debug().Int("tasks", removed).Msg("removed tasks while disconnected")
			r.releaseIfEmpty()
		}
		return
	}

	var batch []*taskSubscription
	seen := make(map[models.TaskID]bool, len(ids))
	for _, id := range ids {
		sub, ok := r.entries[id]
		if !ok || seen[id] || sub.state != stateSubscribed || sub.unsubscribing {
			continue
		}
		seen[id] = true
		batch = append(batch, sub)
	}
	if len(batch) == 0 {
		return
	}

	sortSubs(batch)
	taskIDs := make([]models.TaskID, len(batch))
	for i, sub := range batch {
		sub.unsubscribing = true
		taskIDs[i] = sub.id
	}

	epoch := r.mgr.conn.epoch
	err := r.mgr.transport.Emit(models.EventUnsubscribeTasks, models.TaskIDsPayload{TaskIDs: taskIDs},
		func(data json.RawMessage, err error) {
			r.mgr.post(func() { r.handleUnsubscribeAck(epoch, batch, data, err) })
		})
	if err != nil {
		r.mgr.log.Warn().Err(err).Int("tasks", len(taskIDs)).Msg("failed to send unsubscribe batch")
		r.handleUnsubscribeAck(epoch, batch, nil, err)
		return
	}

	r.mgr.metrics.BatchSent(metrics.KindUnsubscribe, len(taskIDs))
	r.mgr.log.Debug().Interface("tasks", taskIDs).Msg("unsubscribe batch sent")
}

func (r *registry) handleUnsubscribeAck(epoch uint64, batch []*taskSubscription, data json.RawMessage, err error) {
	if epoch != r.mgr.conn.epoch {
		r.mgr.log.Debug().Uint64("epoch", epoch).Msg("ignoring unsubscribe ack from previous connection")
		return
	}
	if errors.Is(err, transport.ErrClosed) {
		return
	}

	result := decodeAck(data, err)
	for _, sub := range batch {
		if r.entries[sub.id] != sub {
			continue
		}
		if result == nil {
			r.remove(sub)
		} else {
			sub.unsubscribing = false
		}
	}

	if result != nil {
		r.mgr.metrics.AckFailed(metrics.KindUnsubscribe)
		r.mgr.log.Warn().Err(result).Int("tasks", len(batch)).Msg("unsubscribe failed")
		return
	}
	r.releaseIfEmpty()
}

// demote runs when the channel is lost. The backend forgets every
// subscription, so Subscribed tasks become Pending with a fresh retry
// budget and tasks that were being unsubscribed are dropped.
func (r *registry) demote() {
	for _, sub := range r.entries {
		sub.inFlight = false
		if sub.unsubscribing {
			r.remove(sub)
			continue
		}
		if sub.state == stateSubscribed {
			sub.state = statePending
			sub.retryCount = 0
		}
	}
}

func (r *registry) remove(sub *taskSubscription) {
	r.cancelRetry(sub)
	delete(r.entries, sub.id)
}

// releaseIfEmpty closes the channel once nothing is tracked.
func (r *registry) releaseIfEmpty() {
	if len(r.entries) == 0 {
		r.mgr.conn.disconnect()
	}
}

// clear cancels every retry timer and forgets all tasks.
func (r *registry) clear() {
	for _, sub := range r.entries {
		r.cancelRetry(sub)
	}
	r.entries = make(map[models.TaskID]*taskSubscription)
}

func (r *registry) snapshot() (pending, subscribed []models.TaskID) {
	for id, sub := range r.entries {
		if sub.state == stateSubscribed {
			subscribed = append(subscribed, id)
		} else {
			pending = append(pending, id)
		}
	}
	sortIDs(pending)
	sortIDs(subscribed)
	return pending, subscribed
}

func sortSubs(subs []*taskSubscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
}

func sortIDs(ids []models.TaskID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
