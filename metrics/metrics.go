// Package metrics exposes Prometheus collectors for identity activity and
// per class operation state.
package metrics

import (
	"context"
	"sync"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/prometheus/client_golang/prometheus"
)

const outcomeNone = "none"

// Collector counts activity events and tracks pending operations.
// Use Register to expose it on a Prometheus registry.
type Collector struct {
	activity *prometheus.CounterVec
	pending  *prometheus.GaugeVec
	duration *prometheus.HistogramVec

	now     func() time.Time
	mu      sync.Mutex
	started map[identity.OperationClass]time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector returns an unregistered Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		activity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_activity_total",
				Help: "Total number of identity activity events",
			},
			[]string{"event", "kind"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "identity_operations_pending",
				Help: "Identity operations currently pending, by class",
			},
			[]string{"class"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "identity_operation_duration_seconds",
				Help:    "Time identity operations spent pending, by class and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"class", "outcome"},
		),
		now:     time.Now,
		started: map[identity.OperationClass]time.Time{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Register registers the collectors with reg.
// Panics if registration fails (following prometheus convention).
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.activity, c.pending, c.duration)
}

// Record implements identity.ActivitySink.
func (c *Collector) Record(_ context.Context, event identity.ActivityEvent) error {
	kind := string(event.ErrorKind)
	if kind == "" {
		kind = outcomeNone
	}
	c.activity.WithLabelValues(string(event.EventType), kind).Inc()
	return nil
}

// Listener returns an identity.OperationListener feeding the pending gauge
// and the duration histogram.
func (c *Collector) Listener() identity.OperationListener {
	return c.observe
}

func (c *Collector) observe(class identity.OperationClass, from, to identity.OperationState) {
	switch to {
	case identity.StatePending:
		c.pending.WithLabelValues(string(class)).Inc()
		c.mu.Lock()
		c.started[class] = c.now()
		c.mu.Unlock()
	case identity.StateSucceeded, identity.StateFailed:
		c.pending.WithLabelValues(string(class)).Dec()
		c.mu.Lock()
		start, ok := c.started[class]
		delete(c.started, class)
		c.mu.Unlock()
		if ok {
			c.duration.WithLabelValues(string(class), string(to)).Observe(c.now().Sub(start).Seconds())
		}
	}
}

var _ identity.ActivitySink = (*Collector)(nil)
