package subscription

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelsos/taskwatch/internal/clock"
	"github.com/kelsos/taskwatch/internal/metrics"
)

// Config holds the retry and reconnect policy.
type Config struct {
	// MaxRetries is how many times a failed subscribe is retried before the
	// task is dropped.
	MaxRetries int
	// BaseRetryDelay is doubled for every retry: 1s, 2s, 4s by default.
	BaseRetryDelay time.Duration
	// MaxReconnectAttempts bounds the reconnect ladder after a failure.
	MaxReconnectAttempts int
	// ReconnectDelay is multiplied by the attempt number.
	ReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		BaseRetryDelay:       time.Second,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Second,
	}
}

type Option func(*Manager)

// WithConfig replaces the retry and reconnect policy. Negative counts and
// non-positive delays keep their defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.MaxRetries >= 0 {
			m.cfg.MaxRetries = cfg.MaxRetries
		}
		if cfg.BaseRetryDelay > 0 {
			m.cfg.BaseRetryDelay = cfg.BaseRetryDelay
		}
		if cfg.MaxReconnectAttempts >= 0 {
			m.cfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
		}
		if cfg.ReconnectDelay > 0 {
			m.cfg.ReconnectDelay = cfg.ReconnectDelay
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithContext sets the parent context handed to Transport.Connect. Dispose
// cancels the derived context.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.parent = ctx
	}
}
