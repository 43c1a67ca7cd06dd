package subscription

import (
	"encoding/json"
	"time"

	"github.com/kelsos/taskwatch/internal/clock"
)

// connection owns the status channel lifecycle. Every connection attempt
// gets a new epoch; callbacks carrying an older epoch are stale.
type connection struct {
	mgr *Manager

	state   ConnectionState
	epoch   uint64
	attempt int
	timer   clock.Timer
}

func newConnection(m *Manager) *connection {
	return &connection{mgr: m}
}

func (c *connection) setState(s ConnectionState) {
	if c.state == s {
		return
	}
	c.mgr.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("connection state changed")
	c.state = s
	c.mgr.metrics.SetConnectionState(s.String())
}

// connect starts a connection when none is open or being established.
func (c *connection) connect() {
	if c.state != Disconnected {
		return
	}
	c.attempt = 0
	c.setState(Connecting)
	c.dial()
}

func (c *connection) dial() {
	c.epoch++
	h := &connHandler{mgr: c.mgr, epoch: c.epoch}

	if err := c.mgr.transport.Connect(c.mgr.ctx, h); err != nil {
		c.mgr.log.Warn().Err(err).Int("attempt", c.attempt).Msg("failed to start connection")
		c.retry()
	}
}

func (c *connection) handleOpen(epoch uint64) {
	if epoch != c.epoch {
		return
	}
	c.stopTimer()
	c.attempt = 0
	c.setState(Connected)
	c.mgr.log.Info().Msg("status channel connected")
	c.mgr.registry.flushOnConnect()
}

func (c *connection) handleClose(epoch uint64, cause error) {
	if epoch != c.epoch || c.state == Disconnected {
		return
	}

	if c.state == Connected {
		c.mgr.log.Warn().Err(cause).Msg("status channel lost")
		c.mgr.registry.demote()
	} else {
		c.mgr.log.Warn().Err(cause).Int("attempt", c.attempt).Msg("connection attempt failed")
	}

	if len(c.mgr.registry.entries) == 0 {
		c.disconnect()
		return
	}
	c.retry()
}

// retry schedules the next attempt of the linear reconnect ladder, or gives
// up once MaxReconnectAttempts is spent. A later subscribe starts a new
// ladder.
func (c *connection) retry() {
	c.epoch++
	if c.attempt >= c.mgr.cfg.MaxReconnectAttempts {
		c.mgr.log.Error().Int("attempts", c.attempt).Msg("giving up on status channel")
		c.mgr.transport.Close()
		c.setState(Disconnected)
		return
	}

	c.attempt++
	delay := time.Duration(c.attempt) * c.mgr.cfg.ReconnectDelay
	c.setState(Reconnecting)

	epoch := c.epoch
	c.stopTimer()
	c.timer = c.mgr.clock.AfterFunc(delay, func() {
		c.mgr.post(func() { c.fireReconnect(epoch) })
	})
	c.mgr.log.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (c *connection) fireReconnect(epoch uint64) {
	if epoch != c.epoch || c.state != Reconnecting {
		return
	}
	c.timer = nil
	c.mgr.metrics.ReconnectAttempt()
	c.dial()
}

// disconnect closes the channel and invalidates every outstanding callback.
func (c *connection) disconnect() {
	c.epoch++
	c.stopTimer()
	if c.state == Disconnected {
		return
	}
	c.mgr.transport.Close()
	c.setState(Disconnected)
	c.mgr.log.Info().Msg("status channel closed")
}

func (c *connection) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// connHandler forwards transport callbacks of one connection attempt onto
// the event loop.
type connHandler struct {
	mgr   *Manager
	epoch uint64
}

func (h *connHandler) HandleOpen() {
	h.mgr.post(func() { h.mgr.conn.handleOpen(h.epoch) })
}

func (h *connHandler) HandleClose(err error) {
	h.mgr.post(func() { h.mgr.conn.handleClose(h.epoch, err) })
}

func (h *connHandler) HandleEvent(event string, data json.RawMessage) {
	h.mgr.post(func() { h.mgr.dispatcher.handleEvent(h.epoch, event, data) })
}
