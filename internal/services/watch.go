package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kelsos/taskwatch/internal/client"
	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/config"
	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/metrics"
	"github.com/kelsos/taskwatch/internal/models"
	"github.com/kelsos/taskwatch/internal/storage"
	"github.com/kelsos/taskwatch/internal/subscription"
	"github.com/kelsos/taskwatch/internal/transport"
	"github.com/kelsos/taskwatch/internal/watch"
)

// WatchService wires the poller, the subscription manager and the result
// store together.
type WatchService struct {
	config  *config.Config
	client  *client.APIClient
	manager *subscription.Manager
	poller  *watch.Poller
	results *storage.ResultStore

	registry *prometheus.Registry
	server   *http.Server

	mu       sync.RWMutex
	observer subscription.StatusFunc
	finished map[models.TaskID]struct{}

	// fetchCtx bounds record lookups started for terminal updates.
	fetchCtx    context.Context
	stopFetches context.CancelFunc
	fetches     sync.WaitGroup

	cleanupOnce sync.Once
}

type serviceOptions struct {
	transport transport.Transport
	clock     clock.Clock
}

type Option func(*serviceOptions)

// WithTransport replaces the websocket transport.
func WithTransport(t transport.Transport) Option {
	return func(o *serviceOptions) {
		o.transport = t
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) {
		o.clock = c
	}
}

// NewWatchService creates a new watch service with all dependencies
func NewWatchService(cfg *config.Config, opts ...Option) (*WatchService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := serviceOptions{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	resultsDir, err := storage.ResolveDir(cfg.ResultsDir)
	if err != nil {
		return nil, err
	}

	s := &WatchService{
		config:   cfg,
		client:   client.NewAPIClient(cfg),
		results:  storage.NewResultStore(resultsDir),
		finished: make(map[models.TaskID]struct{}),
	}
	s.fetchCtx, s.stopFetches = context.WithCancel(context.Background())

	var collector metrics.Collector = metrics.NewNop()
	if cfg.MetricsAddr != "" {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p, err := metrics.NewPrometheus(s.registry, "")
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		collector = p
	}

	if o.transport == nil {
		var wsOpts []transport.Option
		if cfg.APIToken != "" {
			wsOpts = append(wsOpts, transport.WithHeader(http.Header{"Authorization": {"Bearer " + cfg.APIToken}}))
		}
		o.transport = transport.NewWebSocket(cfg.StatusURL, wsOpts...)
	}

	s.manager = subscription.New(o.transport,
		subscription.WithConfig(cfg.SubscriptionConfig()),
		subscription.WithMetrics(collector),
		subscription.WithClock(o.clock),
	)
	s.manager.OnStatusUpdate(s.handleStatus)

	var source watch.Source
	if len(cfg.Tasks) > 0 {
		source = watch.StaticSource(cfg.Tasks)
	} else {
		source = watch.SourceFunc(s.client.ListActiveTaskIDs)
	}
	// A finished task may stay listed for a while, and a static list never
	// changes. Neither should subscribe it again.
	source = watch.Without(source, s.isFinished)
	s.poller = watch.NewPoller(source, s.manager, cfg.PollInterval, watch.WithClock(o.clock))

	return s, nil
}

// SetObserver registers an extra receiver of status updates, used by the
// monitor. It runs on the subscription event loop and must not block.
func (s *WatchService) SetObserver(fn subscription.StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

func (s *WatchService) handleStatus(id models.TaskID, status models.TaskStatus, record json.RawMessage) {
	logger.Info("Task %s is %s", id, status)

	if status.Terminal() {
		s.mu.Lock()
		s.finished[id] = struct{}{}
		s.mu.Unlock()

		if len(record) == 0 && s.usesAPI() {
			// The lookup blocks, so it must not run on the subscription loop.
			s.fetches.Add(1)
			go s.saveFetchedResult(id, status)
		} else {
			s.saveResult(id, status, record)
		}
	}

	s.mu.RLock()
	observer := s.observer
	s.mu.RUnlock()
	if observer != nil {
		observer(id, status, record)
	}
}

func (s *WatchService) usesAPI() bool {
	return len(s.config.Tasks) == 0
}

func (s *WatchService) isFinished(id models.TaskID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.finished[id]
	return ok
}

func (s *WatchService) saveResult(id models.TaskID, status models.TaskStatus, record json.RawMessage) {
	if err := s.results.SaveResult(id, status, record); err != nil {
		logger.Error("Failed to save result for task %s: %v", id, err)
	}
}

// saveFetchedResult stores the job record from the task API for an update
// that arrived without one. The result is saved without a record when the
// lookup fails.
func (s *WatchService) saveFetchedResult(id models.TaskID, status models.TaskStatus) {
	defer s.fetches.Done()

	ctx, cancel := context.WithTimeout(s.fetchCtx, 10*time.Second)
	defer cancel()

	var record json.RawMessage
	task, err := s.client.GetTask(ctx, id)
	if err != nil {
		logger.Warn("Could not fetch record of task %s: %v", id, err)
	} else if record, err = json.Marshal(task); err != nil {
		logger.Warn("Could not encode record of task %s: %v", id, err)
		record = nil
	}

	s.saveResult(id, status, record)
}

// Run blocks until ctx is done, polling the active set and keeping the
// manager subscribed to it.
func (s *WatchService) Run(ctx context.Context) error {
	if s.registry != nil {
		if err := s.startMetricsServer(); err != nil {
			return err
		}
	}

	if len(s.config.Tasks) == 0 {
		if !s.client.WaitForAPIReady(ctx, time.Second) {
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("task API is not reachable")
		}
	}

	logger.Info("Watching tasks (status channel %s)", s.config.StatusURL)
	s.poller.Run(ctx)
	return nil
}

func (s *WatchService) startMetricsServer() error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()

	logger.Info("Serving metrics on %s/metrics", server.Addr)
	return nil
}

// MetricsAddr returns the address the metrics server listens on, or "" when
// it is not running.
func (s *WatchService) MetricsAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Snapshot returns the subscription manager state.
func (s *WatchService) Snapshot() subscription.Snapshot {
	return s.manager.Snapshot()
}

// Results returns the result store.
func (s *WatchService) Results() *storage.ResultStore {
	return s.results
}

// GetConfig returns the current configuration
func (s *WatchService) GetConfig() *config.Config {
	return s.config
}

// Cleanup stops polling, disposes the manager and shuts the metrics server
// down.
func (s *WatchService) Cleanup() {
	s.cleanupOnce.Do(func() {
		s.poller.Stop()
		s.manager.Dispose()
		s.stopFetches()
		s.fetches.Wait()

		s.mu.RLock()
		server := s.server
		s.mu.RUnlock()

		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("Failed to stop metrics server: %v", err)
			}
		}
	})
}
