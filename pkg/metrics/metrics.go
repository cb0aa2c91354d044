// Package metrics exports query client activity to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/queryconn"
)

const namespace = "tsquery"

// Metrics implements query.Observer.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	events      *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	disconnects *prometheus.CounterVec
}

// New creates the collectors. They are not registered.
func New(server string) *Metrics {
	labels := prometheus.Labels{"server": server}
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "query",
				Name:        "requests_total",
				Help:        "Total commands by command and status id.",
				ConstLabels: labels,
			},
			[]string{"command", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "query",
				Name:        "request_duration_seconds",
				Help:        "Time from submission to reply.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "query",
				Name:        "events_total",
				Help:        "Notifications dispatched by kind.",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "query",
				Name:        "pending_requests",
				Help:        "Requests waiting for a reply.",
				ConstLabels: labels,
			},
		),
		disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "conn",
				Name:        "disconnects_total",
				Help:        "Connection losses by cause.",
				ConstLabels: labels,
			},
			[]string{"cause"},
		),
	}
}

// Register adds the collectors to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.events, m.queueDepth, m.disconnects} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RequestCompleted counts a finished request. Failures without a status line
// are counted with status "error".
func (m *Metrics) RequestCompleted(command string, status int, elapsed time.Duration, err error) {
	label := "error"
	if status >= 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(command, label).Inc()
	m.duration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// EventDispatched counts a notification.
func (m *Metrics) EventDispatched(kind query.EventKind) {
	m.events.WithLabelValues(string(kind)).Inc()
}

// QueueDepth records the number of pending requests.
func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Disconnected counts a connection loss. Register it with Conn.OnDisconnect.
func (m *Metrics) Disconnected(cause error) {
	label := "reset"
	if errors.Is(cause, queryconn.ErrClosed) {
		label = "closed"
	}
	m.disconnects.WithLabelValues(label).Inc()
}
