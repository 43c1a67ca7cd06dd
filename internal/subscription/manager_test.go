package subscription

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/transport/transporttest"
)

type received struct {
	id     models.TaskID
	status models.TaskStatus
	record string
}

type harness struct {
	t     *testing.T
	clock *clock.FakeClock
	tr    *transporttest.Fake
	m     *Manager

	mu      sync.Mutex
	updates []received
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		clock: clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		tr:    transporttest.New(),
	}
	opts = append([]Option{WithClock(h.clock), WithLogger(zerolog.Nop())}, opts...)
	h.m = New(h.tr, opts...)
	h.m.OnStatusUpdate(h.record)
	t.Cleanup(h.m.Dispose)
	return h
}

func (h *harness) record(id models.TaskID, status models.TaskStatus, record json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, received{id: id, status: status, record: string(record)})
}

func (h *harness) received() []received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]received(nil), h.updates...)
}

func (h *harness) open() {
	h.tr.Open()
	h.m.Sync()
}

func (h *harness) drop() {
	h.tr.Drop(errors.New("connection reset"))
	h.m.Sync()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.m.Sync()
}

func (h *harness) push(id models.TaskID, status models.TaskStatus) {
	h.tr.Push(models.EventTaskStatusUpdate, models.StatusUpdate{TaskID: id, Status: status})
	h.m.Sync()
}

func (h *harness) subscribe(ids ...models.TaskID) {
	h.m.Subscribe(ids...)
	h.m.Sync()
}

func (h *harness) ack(msg *transporttest.Message) {
	require.NotNil(h.t, msg)
	msg.Ack(models.AckPayload{Success: true})
	h.m.Sync()
}

func (h *harness) reject(msg *transporttest.Message, reason string) {
	require.NotNil(h.t, msg)
	msg.Ack(models.AckPayload{Success: false, Error: reason})
	h.m.Sync()
}

// subscribed brings ids to Subscribed over a fresh connection.
func (h *harness) subscribed(ids ...models.TaskID) {
	h.subscribe(ids...)
	h.open()
	h.ack(h.tr.Last(models.EventSubscribeTasks))

	snap := h.m.Snapshot()
	require.Equal(h.t, Connected, snap.State)
	require.ElementsMatch(h.t, ids, snap.Subscribed)
}

// inspect runs fn on the event loop.
func (h *harness) inspect(fn func()) {
	done := make(chan struct{})
	require.True(h.t, h.m.loop.post(func() {
		defer close(done)
		fn()
	}))
	<-done
}

func payloadIDs(t *testing.T, msg *transporttest.Message) []models.TaskID {
	t.Helper()
	require.NotNil(t, msg)

	var payload models.TaskIDsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload.TaskIDs
}

func ids(values ...string) []models.TaskID {
	out := make([]models.TaskID, len(values))
	for i, v := range values {
		out[i] = models.TaskID(v)
	}
	return out
}

func TestManager_SubscribeConnectsAndFlushesOnOpen(t *testing.T) {
	h := newHarness(t)

	h.subscribe(ids("t2", "t1")...)
	require.Equal(t, 1, h.tr.Connects())
	require.Equal(t, Connecting, h.m.State())
	require.Empty(t, h.tr.Messages())

	h.open()
	msgs := h.tr.MessagesFor(models.EventSubscribeTasks)
	require.Len(t, msgs, 1)
	require.Equal(t, ids("t1", "t2"), payloadIDs(t, msgs[0]))

	h.ack(msgs[0])
	snap := h.m.Snapshot()
	assert.Equal(t, ids("t1", "t2"), snap.Subscribed)
	assert.Empty(t, snap.Pending)
}

func TestManager_SubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	h.subscribe(ids("t1")...)
	assert.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), 1)

	// Still in flight: a repeated request must not produce a second batch.
	h.subscribe(ids("t2")...)
	h.subscribe(ids("t2", "t1")...)
	msgs := h.tr.MessagesFor(models.EventSubscribeTasks)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids("t2"), payloadIDs(t, msgs[1]))
	assert.Equal(t, 1, h.tr.Connects())
}

func TestManager_SubscribeWhileConnectedSendsOneBatch(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	h.subscribe(ids("a", "b", "c")...)
	msg := h.tr.Last(models.EventSubscribeTasks)
	assert.Equal(t, ids("a", "b", "c"), payloadIDs(t, msg))
}

func TestManager_ReconnectResubscribesInOneBatch(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1", "t2")...)

	h.drop()
	snap := h.m.Snapshot()
	assert.Equal(t, Reconnecting, snap.State)
	assert.Equal(t, ids("t1", "t2"), snap.Pending)
	assert.Empty(t, snap.Subscribed)
	assert.Equal(t, []time.Duration{time.Second}, h.clock.PendingTimers())

	h.advance(time.Second)
	require.Equal(t, 2, h.tr.Connects())

	h.open()
	msgs := h.tr.MessagesFor(models.EventSubscribeTasks)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids("t1", "t2"), payloadIDs(t, msgs[1]))

	h.ack(msgs[1])
	assert.Equal(t, ids("t1", "t2"), h.m.Snapshot().Subscribed)
}

func TestManager_DropWithBatchInFlightDoesNotScheduleRetry(t *testing.T) {
	h := newHarness(t)
	h.subscribe(ids("t1")...)
	h.open()

	h.drop()
	// Only the reconnect timer; the failed ack is not a subscribe failure.
	assert.Equal(t, []time.Duration{time.Second}, h.clock.PendingTimers())
	h.inspect(func() {
		sub := h.m.registry.entries["t1"]
		require.NotNil(t, sub)
		assert.False(t, sub.inFlight)
		assert.Zero(t, sub.retryCount)
	})
}

func TestManager_ReconnectLadderGivesUp(t *testing.T) {
	h := newHarness(t)
	h.subscribe(ids("t1")...)

	for attempt := 1; attempt <= 3; attempt++ {
		h.drop()
		require.Equal(t, Reconnecting, h.m.State())
		require.Equal(t, []time.Duration{time.Duration(attempt) * time.Second}, h.clock.PendingTimers())

		h.advance(time.Duration(attempt) * time.Second)
		require.Equal(t, attempt+1, h.tr.Connects())
	}

	h.drop()
	snap := h.m.Snapshot()
	assert.Equal(t, Disconnected, snap.State)
	assert.Equal(t, ids("t1"), snap.Pending)
	assert.Empty(t, h.clock.PendingTimers())

	h.advance(time.Minute)
	assert.Equal(t, 4, h.tr.Connects())

	// A new request starts over.
	h.m.Reconcile(ids("t1"))
	h.m.Sync()
	assert.Equal(t, 5, h.tr.Connects())
	assert.Equal(t, Connecting, h.m.State())

	h.open()
	assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
}

func TestManager_ConnectErrorEntersLadder(t *testing.T) {
	h := newHarness(t)
	h.tr.SetConnectErr(errors.New("invalid endpoint"))

	h.subscribe(ids("t1")...)
	assert.Equal(t, Reconnecting, h.m.State())
	assert.Equal(t, []time.Duration{time.Second}, h.clock.PendingTimers())

	h.tr.SetConnectErr(nil)
	h.advance(time.Second)
	h.open()
	assert.Equal(t, Connected, h.m.State())
	assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
}

func TestManager_TerminalStatusUnsubscribesAndReleases(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	h.tr.Push(models.EventTaskStatusUpdate, map[string]any{
		"taskId": "t1",
		"status": "done",
		"record": map[string]any{"url": "https://cdn.example/t1.mp4"},
	})
	h.m.Sync()

	got := h.received()
	require.Len(t, got, 1)
	assert.Equal(t, models.TaskID("t1"), got[0].id)
	assert.Equal(t, models.TaskStatusDone, got[0].status)
	assert.JSONEq(t, `{"url":"https://cdn.example/t1.mp4"}`, got[0].record)

	msg := h.tr.Last(models.EventUnsubscribeTasks)
	assert.Equal(t, ids("t1"), payloadIDs(t, msg))

	// A second terminal update while unsubscribing is discarded.
	h.push("t1", models.TaskStatusDone)
	assert.Len(t, h.received(), 1)
	assert.Len(t, h.tr.MessagesFor(models.EventUnsubscribeTasks), 1)

	h.ack(msg)
	snap := h.m.Snapshot()
	assert.Equal(t, Disconnected, snap.State)
	assert.Empty(t, snap.Pending)
	assert.Empty(t, snap.Subscribed)
	assert.Equal(t, 1, h.tr.Closes())
}

func TestManager_NonTerminalStatusKeepsSubscription(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	h.push("t1", models.TaskStatusGenerating)
	assert.Len(t, h.received(), 1)
	assert.Empty(t, h.tr.MessagesFor(models.EventUnsubscribeTasks))
	assert.Equal(t, ids("t1"), h.m.Snapshot().Subscribed)
}

func TestManager_RetryLadderThenDrop(t *testing.T) {
	h := newHarness(t)
	h.subscribe(ids("t1")...)
	h.open()

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		h.reject(h.tr.Last(models.EventSubscribeTasks), "rate limited")
		require.Equal(t, []time.Duration{delay}, h.clock.PendingTimers(), "retry %d", i+1)

		h.advance(delay - time.Millisecond)
		require.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), i+1)

		h.advance(time.Millisecond)
		require.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), i+2)
		assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
	}

	h.reject(h.tr.Last(models.EventSubscribeTasks), "rate limited")
	assert.Empty(t, h.clock.PendingTimers())

	snap := h.m.Snapshot()
	assert.Empty(t, snap.Pending)
	assert.Empty(t, snap.Subscribed)
	assert.Equal(t, Disconnected, snap.State)

	h.advance(time.Hour)
	assert.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), 4)
}

func TestManager_RetryDelayStaysBoundedWithLargeBudget(t *testing.T) {
	h := newHarness(t, WithConfig(Config{
		MaxRetries:           64,
		BaseRetryDelay:       time.Second,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Second,
	}))
	h.subscribe(ids("t1")...)
	h.open()

	for i := 0; i < 40; i++ {
		h.reject(h.tr.Last(models.EventSubscribeTasks), "busy")
		pending := h.clock.PendingTimers()
		require.Len(t, pending, 1, "retry %d", i+1)
		require.Positive(t, pending[0], "retry %d", i+1)
		require.LessOrEqual(t, pending[0], maxRetryDelay, "retry %d", i+1)

		h.advance(pending[0])
		require.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), i+2)
	}
	assert.Equal(t, ids("t1"), h.m.Snapshot().Pending)
}

func TestManager_RetrySkipsTasksAckedMeanwhile(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("keep")...)

	h.subscribe(ids("t1", "t2")...)
	h.reject(h.tr.Last(models.EventSubscribeTasks), "busy")

	// t2 is unsubscribed before the retry fires; only t1 is resent.
	h.inspect(func() {
		h.m.registry.remove(h.m.registry.entries["t2"])
	})
	h.advance(time.Second)
	assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
}

func TestManager_RetryWhileDisconnectedWaitsForConnect(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("keep")...)

	h.subscribe(ids("t1")...)
	h.reject(h.tr.Last(models.EventSubscribeTasks), "busy")
	sent := len(h.tr.MessagesFor(models.EventSubscribeTasks))

	h.drop()
	h.advance(time.Second)
	assert.Len(t, h.tr.MessagesFor(models.EventSubscribeTasks), sent)

	h.open()
	assert.Equal(t, ids("keep", "t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
	assert.Empty(t, h.clock.PendingTimers())
}

func TestManager_EmitFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("keep")...)

	h.tr.SetEmitErr(errors.New("send queue full"))
	h.subscribe(ids("t1")...)
	assert.Equal(t, []time.Duration{time.Second}, h.clock.PendingTimers())

	h.tr.SetEmitErr(nil)
	h.advance(time.Second)
	assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventSubscribeTasks)))
}

func TestManager_UnsolicitedUpdatesAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)
	h.subscribe(ids("pending")...)

	h.push("stranger", models.TaskStatusDone)
	h.push("pending", models.TaskStatusDone)
	h.push("t1", models.TaskStatus("exploded"))
	h.tr.PushRaw(models.EventTaskStatusUpdate, json.RawMessage(`{"taskId":`))
	h.tr.PushRaw(models.EventTaskStatusUpdate, json.RawMessage(`[1,2,3]`))
	h.tr.Push("somethingElse", map[string]string{"taskId": "t1"})
	h.m.Sync()

	assert.Empty(t, h.received())
	assert.Empty(t, h.tr.MessagesFor(models.EventUnsubscribeTasks))

	snap := h.m.Snapshot()
	assert.Equal(t, ids("t1"), snap.Subscribed)
	assert.Equal(t, ids("pending"), snap.Pending)
}

func TestManager_ReconcileDiff(t *testing.T) {
	h := newHarness(t)
	h.m.Reconcile(ids("a", "b", "c"))
	h.m.Sync()
	h.open()
	h.ack(h.tr.Last(models.EventSubscribeTasks))

	h.m.Reconcile(ids("b", "c", "d"))
	h.m.Sync()

	subs := h.tr.MessagesFor(models.EventSubscribeTasks)
	require.Len(t, subs, 2)
	assert.Equal(t, ids("d"), payloadIDs(t, subs[1]))

	unsubs := h.tr.MessagesFor(models.EventUnsubscribeTasks)
	require.Len(t, unsubs, 1)
	assert.Equal(t, ids("a"), payloadIDs(t, unsubs[0]))

	h.ack(subs[1])
	h.ack(unsubs[0])
	assert.Equal(t, ids("b", "c", "d"), h.m.Snapshot().Subscribed)
}

func TestManager_ReconcileWithNoChangesSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.m.Reconcile(ids("a"))
	h.m.Sync()
	h.open()
	h.ack(h.tr.Last(models.EventSubscribeTasks))

	h.m.Reconcile(ids("a", "a"))
	h.m.Sync()
	assert.Len(t, h.tr.Messages(), 1)
}

func TestManager_ReconcileEmptyReleasesConnection(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("a", "b")...)

	h.m.Reconcile(nil)
	h.m.Sync()
	h.ack(h.tr.Last(models.EventUnsubscribeTasks))

	assert.Equal(t, Disconnected, h.m.State())
	assert.Equal(t, 1, h.tr.Closes())
}

func TestManager_UnsubscribeIgnoresPendingWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("keep")...)
	h.subscribe(ids("t1")...)

	h.m.Unsubscribe(ids("t1", "unknown")...)
	h.m.Sync()
	assert.Empty(t, h.tr.MessagesFor(models.EventUnsubscribeTasks))
	assert.Equal(t, ids("t1"), h.m.Snapshot().Pending)
}

func TestManager_UnsubscribeWhileDisconnectedRemovesLocally(t *testing.T) {
	h := newHarness(t)
	h.subscribe(ids("t1", "t2")...)

	h.m.Unsubscribe(ids("t1")...)
	h.m.Sync()
	assert.Equal(t, ids("t2"), h.m.Snapshot().Pending)
	assert.Zero(t, h.tr.Closes())

	h.m.Unsubscribe(ids("t2")...)
	h.m.Sync()
	assert.Equal(t, Disconnected, h.m.State())
	assert.Equal(t, 1, h.tr.Closes())
	assert.Empty(t, h.tr.Messages())
}

func TestManager_FailedUnsubscribeKeepsTask(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1", "t2")...)

	h.m.Unsubscribe(ids("t1")...)
	h.m.Sync()
	h.reject(h.tr.Last(models.EventUnsubscribeTasks), "")
	assert.Equal(t, ids("t1", "t2"), h.m.Snapshot().Subscribed)

	// Updates flow again and a later unsubscribe goes out.
	h.push("t1", models.TaskStatusGenerating)
	assert.Len(t, h.received(), 1)

	h.m.Unsubscribe(ids("t1")...)
	h.m.Sync()
	assert.Len(t, h.tr.MessagesFor(models.EventUnsubscribeTasks), 2)
}

func TestManager_DropWhileUnsubscribingForgetsTask(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1", "t2")...)

	h.m.Unsubscribe(ids("t1")...)
	h.m.Sync()
	h.drop()

	assert.Equal(t, ids("t2"), h.m.Snapshot().Pending)
}

func TestManager_ObserverSwap(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	var first, second []models.TaskStatus
	h.m.OnStatusUpdate(func(_ models.TaskID, status models.TaskStatus, _ json.RawMessage) {
		first = append(first, status)
	})
	h.push("t1", models.TaskStatusPending)

	h.m.OnStatusUpdate(func(_ models.TaskID, status models.TaskStatus, _ json.RawMessage) {
		second = append(second, status)
	})
	h.push("t1", models.TaskStatusGenerating)

	h.inspect(func() {
		assert.Equal(t, []models.TaskStatus{models.TaskStatusPending}, first)
		assert.Equal(t, []models.TaskStatus{models.TaskStatusGenerating}, second)
	})
	assert.Empty(t, h.received())
}

func TestManager_ObserverMayReconcile(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1", "t2")...)

	h.m.OnStatusUpdate(func(id models.TaskID, _ models.TaskStatus, _ json.RawMessage) {
		h.m.Reconcile(ids("t2"))
	})
	h.push("t1", models.TaskStatusGenerating)
	h.m.Sync()

	assert.Equal(t, ids("t1"), payloadIDs(t, h.tr.Last(models.EventUnsubscribeTasks)))
}

func TestManager_ObserverPanicDoesNotBreakLoop(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)

	h.m.OnStatusUpdate(func(models.TaskID, models.TaskStatus, json.RawMessage) {
		panic("observer bug")
	})
	h.push("t1", models.TaskStatusDone)

	// The terminal side effect still ran.
	assert.Len(t, h.tr.MessagesFor(models.EventUnsubscribeTasks), 1)
	assert.Equal(t, Connected, h.m.State())
}

func TestManager_Dispose(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("keep")...)
	h.subscribe(ids("t1")...)
	pending := h.tr.Last(models.EventSubscribeTasks)
	h.reject(pending, "busy")
	require.NotEmpty(t, h.clock.PendingTimers())

	h.m.Dispose()
	assert.Empty(t, h.clock.PendingTimers())
	assert.GreaterOrEqual(t, h.tr.Closes(), 1)

	sent := len(h.tr.Messages())
	connects := h.tr.Connects()

	h.clock.Advance(time.Hour)
	h.tr.Push(models.EventTaskStatusUpdate, models.StatusUpdate{TaskID: "keep", Status: models.TaskStatusDone})
	h.m.Reconcile(ids("x", "y"))
	h.m.Subscribe(ids("z")...)
	h.m.Sync()

	assert.Len(t, h.tr.Messages(), sent)
	assert.Equal(t, connects, h.tr.Connects())
	assert.Empty(t, h.received())
	assert.Equal(t, Snapshot{}, h.m.Snapshot())

	assert.NotPanics(t, h.m.Dispose)
}

func TestManager_DisposeCancelsReconnect(t *testing.T) {
	h := newHarness(t)
	h.subscribed(ids("t1")...)
	h.drop()
	require.Len(t, h.clock.PendingTimers(), 1)

	h.m.Dispose()
	assert.Empty(t, h.clock.PendingTimers())
	assert.Equal(t, 1, h.tr.Connects())
}

func TestManager_StateInvariantUnderRandomOperations(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(42))
	pool := ids("a", "b", "c", "d", "e", "f")

	pick := func() []models.TaskID {
		var out []models.TaskID
		for _, id := range pool {
			if rng.Intn(2) == 0 {
				out = append(out, id)
			}
		}
		return out
	}

	for step := 0; step < 300; step++ {
		switch rng.Intn(9) {
		case 0:
			h.m.Reconcile(pick())
		case 1:
			h.m.Subscribe(pick()...)
		case 2:
			h.m.Unsubscribe(pick()...)
		case 3:
			h.tr.Open()
		case 4:
			h.tr.Drop(errors.New("reset"))
		case 5:
			for _, msg := range h.tr.Messages() {
				if rng.Intn(2) == 0 {
					msg.Ack(models.AckPayload{Success: true})
				} else {
					msg.Ack(models.AckPayload{Success: false, Error: "nope"})
				}
			}
		case 6:
			h.clock.Advance(time.Duration(rng.Intn(5)) * time.Second)
		case 7:
			statuses := []models.TaskStatus{models.TaskStatusGenerating, models.TaskStatusDone, models.TaskStatusFailed}
			id := pool[rng.Intn(len(pool))]
			h.tr.Push(models.EventTaskStatusUpdate, models.StatusUpdate{TaskID: id, Status: statuses[rng.Intn(len(statuses))]})
		case 8:
			h.m.Sync()
		}
		h.m.Sync()

		h.inspect(func() {
			for id, sub := range h.m.registry.entries {
				require.Equal(t, id, sub.id)
				if sub.state == stateSubscribed {
					require.Nil(t, sub.retry, "subscribed task %s has a retry timer", id)
					require.False(t, sub.inFlight, "subscribed task %s is in flight", id)
				}
				if sub.state == statePending {
					require.False(t, sub.unsubscribing, "pending task %s is unsubscribing", id)
				}
				require.LessOrEqual(t, sub.retryCount, h.m.cfg.MaxRetries)
			}
			if h.m.conn.state != Connected {
				for id, sub := range h.m.registry.entries {
					require.Equal(t, statePending, sub.state, "task %s subscribed while %s", id, h.m.conn.state)
				}
			}
		})
	}
}

func TestAckError(t *testing.T) {
	require.NoError(t, decodeAck(json.RawMessage(`{"success":true}`), nil))

	var ackErr *AckError
	err := decodeAck(json.RawMessage(`{"success":false,"error":"quota"}`), nil)
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "quota", ackErr.Reason)

	err = decodeAck(json.RawMessage(`{"success":false}`), nil)
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "unspecified", ackErr.Reason)

	err = decodeAck(json.RawMessage(`nope`), nil)
	require.ErrorAs(t, err, &ackErr)

	cause := errors.New("write failed")
	assert.ErrorIs(t, decodeAck(nil, cause), cause)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
