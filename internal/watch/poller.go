// Package watch feeds the subscription manager with the set of active tasks.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/models"
)

// Source lists the tasks that should currently be watched.
type Source interface {
	ActiveTaskIDs(ctx context.Context) ([]models.TaskID, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]models.TaskID, error)

func (f SourceFunc) ActiveTaskIDs(ctx context.Context) ([]models.TaskID, error) {
	return f(ctx)
}

// StaticSource always reports ids.
func StaticSource(ids []models.TaskID) Source {
	return SourceFunc(func(context.Context) ([]models.TaskID, error) {
		return append([]models.TaskID(nil), ids...), nil
	})
}

// Without wraps source and leaves out every id skip reports true for.
func Without(source Source, skip func(models.TaskID) bool) Source {
	return SourceFunc(func(ctx context.Context) ([]models.TaskID, error) {
		ids, err := source.ActiveTaskIDs(ctx)
		if err != nil {
			return nil, err
		}
		kept := make([]models.TaskID, 0, len(ids))
		for _, id := range ids {
			if !skip(id) {
				kept = append(kept, id)
			}
		}
		return kept, nil
	})
}

// Reconciler receives the active set on every poll.
type Reconciler interface {
	Reconcile(active []models.TaskID)
}

// Poller reconciles on every tick, not only when the set changes, so tasks
// the manager gave up on are requested again.
type Poller struct {
	source   Source
	target   Reconciler
	clock    clock.Clock
	interval time.Duration

	mu            sync.RWMutex
	last          []models.TaskID
	haveLast      bool
	failures      int
	polls         int
	pollingActive bool
	stopPolling   chan struct{}
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

func NewPoller(source Source, target Reconciler, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		target:      target,
		clock:       clock.Real(),
		interval:    interval,
		stopPolling: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls immediately and then every interval until ctx is done or Stop
// is called.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	if p.pollingActive {
		p.mu.Unlock()
		return
	}
	p.pollingActive = true
	p.stopPolling = make(chan struct{})
	stop := p.stopPolling
	p.mu.Unlock()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Debug("Polling active tasks every %s", p.interval)
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-stop:
			return
		case <-ticker.C():
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ids, err := p.source.ActiveTaskIDs(ctx)

	p.mu.Lock()
	if err != nil {
		if ctx.Err() != nil {
			p.mu.Unlock()
			return
		}
		p.failures++
		failures := p.failures
		haveLast := p.haveLast
		ids = append([]models.TaskID(nil), p.last...)
		p.mu.Unlock()

		logger.Warn("Failed to fetch active tasks (%d consecutive): %v", failures, err)
		if !haveLast {
			return
		}
	} else {
		if p.failures > 0 {
			logger.Info("Fetching active tasks recovered after %d failures", p.failures)
		}
		p.failures = 0
		p.last = append([]models.TaskID(nil), ids...)
		p.haveLast = true
		p.mu.Unlock()
	}

	p.target.Reconcile(ids)

	p.mu.Lock()
	p.polls++
	p.mu.Unlock()
}

// Stop ends a running Run. It is safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pollingActive {
		close(p.stopPolling)
		p.pollingActive = false
	}
}

// LastActive returns the most recently fetched active set.
func (p *Poller) LastActive() []models.TaskID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.TaskID(nil), p.last...)
}

// Polls returns how many polls reached the reconciler.
func (p *Poller) Polls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.polls
}

// Failures returns the number of consecutive failed fetches.
func (p *Poller) Failures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failures
}
