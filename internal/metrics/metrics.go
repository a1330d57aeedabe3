// Package metrics holds the prometheus collectors shared by sessions and the
// gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	Bids         *prometheus.CounterVec // result: accepted | <rejection reason>
	Events       *prometheus.CounterVec // type
	Clients      *prometheus.GaugeVec   // role
	Dropped      prometheus.Counter
	DropLag      prometheus.Histogram
	SaveFailures prometheus.Counter
	Sessions     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "bids_total",
			Help:      "Bid submissions by arbitration result.",
		}, []string{"result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "events_total",
			Help:      "Committed session events by type.",
		}, []string{"type"}),
		Clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "clients",
			Help:      "Connected websocket clients by role.",
		}, []string{"role"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "clients_dropped_total",
			Help:      "Clients dropped because their outbox was full.",
		}),
		DropLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "dropped_client_lag_events",
			Help:      "Unacknowledged events a client had when it was dropped.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "snapshot_save_failures_total",
			Help:      "Snapshot save attempts that failed.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "sessions",
			Help:      "Live auction sessions held by the hub.",
		}),
	}
	m.registry.MustRegister(
		m.Bids, m.Events, m.Clients, m.Dropped, m.DropLag, m.SaveFailures, m.Sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveBid(result string) {
	if m == nil {
		return
	}
	m.Bids.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ClientConnected(role string) {
	if m == nil {
		return
	}
	m.Clients.WithLabelValues(role).Inc()
}

func (m *Metrics) ClientDisconnected(role string) {
	if m == nil {
		return
	}
	m.Clients.WithLabelValues(role).Dec()
}

// ClientDropped counts a dropped client. lag < 0 means it never acked and is
// not observed.
func (m *Metrics) ClientDropped(lag int64) {
	if m == nil {
		return
	}
	m.Dropped.Inc()
	if lag >= 0 {
		m.DropLag.Observe(float64(lag))
	}
}

func (m *Metrics) SaveFailed() {
	if m == nil {
		return
	}
	m.SaveFailures.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}
