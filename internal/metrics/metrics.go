// Package metrics defines the Prometheus collectors exported on /__devserver/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "devserver"

// Metrics groups every collector the dev server updates.
type Metrics struct {
	ProxyRequests   *prometheus.CounterVec
	ProxyDuration   *prometheus.HistogramVec
	TunnelsActive   *prometheus.GaugeVec
	TunnelsOpened   *prometheus.CounterVec
	UpstreamUp      *prometheus.GaugeVec
	ReloadClients   prometheus.Gauge
	ReloadBroadcast prometheus.Counter
}

// New creates the collectors and registers them, together with the Go runtime
// and process collectors, on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by rule, method and response code.",
		}, []string{"rule", "method", "code"}),
		ProxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time spent proxying plain HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		TunnelsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "websocket_tunnels_active",
			Help:      "Upgraded connections currently being tunneled.",
		}, []string{"rule"}),
		TunnelsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "websocket_tunnels_total",
			Help:      "Upgrade requests forwarded upstream.",
		}, []string{"rule"}),
		UpstreamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "up",
			Help:      "1 when the last probe of the proxy target succeeded.",
		}, []string{"rule", "target"}),
		ReloadClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "clients",
			Help:      "Connected live-reload browser clients.",
		}),
		ReloadBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "broadcasts_total",
			Help:      "Reload messages sent to browsers.",
		}),
	}

	reg.MustRegister(
		m.ProxyRequests,
		m.ProxyDuration,
		m.TunnelsActive,
		m.TunnelsOpened,
		m.UpstreamUp,
		m.ReloadClients,
		m.ReloadBroadcast,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere. Useful
// when a component needs a *Metrics but the caller does not serve metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
