// Package metrics defines the Prometheus collectors of a routerctl server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "routerctl"

// Metrics is the set of routerctl collectors. Each server instance owns
// its own registry.
type Metrics struct {
	registry *prometheus.Registry

	DispatcherCalls *prometheus.CounterVec
	Detections      *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	AdapterErrors   *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		DispatcherCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "calls_total",
			Help:      "Tool invocations by tool and result",
		}, []string{"tool", "result"}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "detections_total",
			Help:      "Detection runs by detected vendor; none when nothing matched",
		}, []string{"vendor"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Live router sessions in the connection cache",
		}),
		AdapterErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "errors_total",
			Help:      "Failed router operations by vendor and error kind",
		}, []string{"vendor", "kind"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: logrus.StandardLogger(),
	})
}

// ObserveCall counts one dispatcher call.
func (m *Metrics) ObserveCall(tool string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.DispatcherCalls.WithLabelValues(tool, result).Inc()
}

// ObserveDetection counts one detection run.
func (m *Metrics) ObserveDetection(vendor string) {
	if vendor == "" {
		vendor = "none"
	}
	m.Detections.WithLabelValues(vendor).Inc()
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// ObserveAdapterError counts one failed router operation.
func (m *Metrics) ObserveAdapterError(vendor, kind string) {
	if vendor == "" {
		vendor = "unknown"
	}
	if kind == "" {
		kind = "unclassified"
	}
	m.AdapterErrors.WithLabelValues(vendor, kind).Inc()
}
