// Package metrics holds the Prometheus collectors of driftnote.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "driftnote"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector groups every driftnote metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	NoteOps       *prometheus.CounterVec
	Subscriptions prometheus.Gauge
	Backups       *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		NoteOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "note_operations_total",
				Help:      "Note writes by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "subscriptions_open",
				Help:      "Open note subscriptions",
			},
		),
		Backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "backups_total",
				Help:      "Backups by outcome",
			},
			[]string{"outcome"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		c.NoteOps,
		c.Subscriptions,
		c.Backups,
		c.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return c
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// NoteOp counts one note write.
func (c *Collector) NoteOp(op string, err error) {
	if c == nil {
		return
	}
	c.NoteOps.WithLabelValues(op, outcome(err)).Inc()
}

// SubscriptionOpened and SubscriptionClosed track open subscriptions.
func (c *Collector) SubscriptionOpened() {
	if c != nil {
		c.Subscriptions.Inc()
	}
}

func (c *Collector) SubscriptionClosed() {
	if c != nil {
		c.Subscriptions.Dec()
	}
}

func (c *Collector) Backup(err error) {
	if c == nil {
		return
	}
	c.Backups.WithLabelValues(outcome(err)).Inc()
}

// ObserveHTTP records one request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Registry exposes the registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
