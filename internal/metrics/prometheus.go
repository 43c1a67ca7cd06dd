package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// connectionStates lists every value SetConnectionState may receive so the
// gauge vector always exports all of them.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Prometheus is a Collector backed by prometheus client_golang.
type Prometheus struct {
	batches         *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	ackFailures     *prometheus.CounterVec
	retries         prometheus.Counter
	retryDelay      prometheus.Histogram
	dropped         prometheus.Counter
	reconnects      prometheus.Counter
	statusUpdates   *prometheus.CounterVec
	discarded       *prometheus.CounterVec
	tracked         *prometheus.GaugeVec
	connectionState *prometheus.GaugeVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates the collectors under namespace (default
// "taskwatch") and registers them with reg (default
// prometheus.DefaultRegisterer).
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "taskwatch"
	}

	p := &Prometheus{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "batches_sent_total",
			Help:      "Subscribe and unsubscribe batches written to the status channel.",
		}, []string{"kind"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "batch_size",
			Help:      "Number of task ids per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"kind"}),
		ackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "ack_failures_total",
			Help:      "Batches whose acknowledgement failed.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "retries_scheduled_total",
			Help:      "Subscribe retries scheduled after a failed acknowledgement.",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay of scheduled subscribe retries.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16},
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "tasks_dropped_total",
			Help:      "Tasks removed after exhausting their retry budget.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts made after losing the status channel.",
		}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "status_updates_total",
			Help:      "Status updates delivered to the observer by status.",
		}, []string{"status"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "updates_discarded_total",
			Help:      "Inbound status updates discarded by reason.",
		}, []string{"reason"}),
		tracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "tracked_tasks",
			Help:      "Tasks currently tracked by state.",
		}, []string{"state"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}

	collectors := []prometheus.Collector{
		p.batches, p.batchSize, p.ackFailures, p.retries, p.retryDelay, p.dropped,
		p.reconnects, p.statusUpdates, p.discarded, p.tracked, p.connectionState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	p.SetConnectionState("disconnected")
	return p, nil
}

func (p *Prometheus) BatchSent(kind string, size int) {
	p.batches.WithLabelValues(kind).Inc()
	p.batchSize.WithLabelValues(kind).Observe(float64(size))
}

func (p *Prometheus) AckFailed(kind string) {
	p.ackFailures.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RetryScheduled(delay time.Duration) {
	p.retries.Inc()
	p.retryDelay.Observe(delay.Seconds())
}

func (p *Prometheus) TaskDropped() {
	p.dropped.Inc()
}

func (p *Prometheus) ReconnectAttempt() {
	p.reconnects.Inc()
}

func (p *Prometheus) StatusUpdate(status string) {
	p.statusUpdates.WithLabelValues(status).Inc()
}

func (p *Prometheus) UpdateDiscarded(reason string) {
	p.discarded.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SetTracked(pending, subscribed int) {
	p.tracked.WithLabelValues("pending").Set(float64(pending))
	p.tracked.WithLabelValues("subscribed").Set(float64(subscribed))
}

func (p *Prometheus) SetConnectionState(state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.connectionState.WithLabelValues(s).Set(value)
	}
}
