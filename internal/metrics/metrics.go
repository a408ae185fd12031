// Package metrics collects and exposes Prometheus metrics for the delivery
// engine and the ingestion API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the counters the delivery engine reports into.
type Collector struct {
	enqueued       prometheus.Counter
	delivered      prometheus.Counter
	requeued       prometheus.Counter
	expired        prometheus.Counter
	droppedOffline prometheus.Counter
	sessionsActive prometheus.Gauge
	ackLatency     prometheus.Histogram
	httpStatus     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_messages_enqueued_total",
			Help: "Messages accepted for delivery.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_messages_delivered_total",
			Help: "Per-socket deliveries with a positive acknowledgment.",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_messages_requeued_total",
			Help: "Per-socket delivery failures scheduled for retry.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_messages_expired_total",
			Help: "Messages dropped after exceeding the delivery deadline.",
		}),
		droppedOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_messages_dropped_offline_total",
			Help: "Messages dropped because no live session matched.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifyd_sessions_active",
			Help: "Currently connected, authenticated push channels.",
		}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifyd_ack_latency_seconds",
			Help:    "Push-to-acknowledgment round trip per delivery.",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.enqueued,
		c.delivered,
		c.requeued,
		c.expired,
		c.droppedOffline,
		c.sessionsActive,
		c.ackLatency,
		c.httpStatus,
	)

	return c
}

func (c *Collector) MessageEnqueued() { c.enqueued.Inc() }

func (c *Collector) MessageDelivered(latency time.Duration) {
	c.delivered.Inc()
	c.ackLatency.Observe(latency.Seconds())
}

func (c *Collector) MessageRequeued() { c.requeued.Inc() }

func (c *Collector) MessageExpired() { c.expired.Inc() }

func (c *Collector) MessageDroppedOffline() { c.droppedOffline.Inc() }

func (c *Collector) SessionsActive(n int) { c.sessionsActive.Set(float64(n)) }

// RecordHTTPStatus counts a response by status code.
func (c *Collector) RecordHTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
