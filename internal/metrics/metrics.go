// Package metrics exposes the aggregator's Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records
// nothing, so subsystems never need nil checks.
type Metrics struct {
	registry *prometheus.Registry

	DeviceEvents    *prometheus.CounterVec
	DeviceConnected *prometheus.GaugeVec
	ProtocolErrors  *prometheus.CounterVec
	WSClients       prometheus.Gauge
	WSBroadcasts    prometheus.Counter
	TSLPackets      *prometheus.CounterVec
	EmberConsumers  prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		DeviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superdash_device_events_total",
			Help: "Device events applied to the state store, by device and kind.",
		}, []string{"device", "kind"}),
		DeviceConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "superdash_device_connected",
			Help: "Whether the device's protocol client is connected (0/1).",
		}, []string{"device"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superdash_protocol_errors_total",
			Help: "Non-fatal protocol client errors, by component.",
		}, []string{"component"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "superdash_ws_clients",
			Help: "Connected WebSocket dashboard clients.",
		}),
		WSBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "superdash_ws_broadcasts_total",
			Help: "Snapshot broadcasts sent to WebSocket clients.",
		}),
		TSLPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superdash_tsl_packets_total",
			Help: "TSL UMD packets sent, by destination.",
		}, []string{"destination"}),
		EmberConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "superdash_ember_consumers",
			Help: "Connected Ember+ consumers.",
		}),
	}
	registry.MustRegister(
		m.DeviceEvents,
		m.DeviceConnected,
		m.ProtocolErrors,
		m.WSClients,
		m.WSBroadcasts,
		m.TSLPackets,
		m.EmberConsumers,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventApplied records one applied device event.
func (m *Metrics) EventApplied(deviceName, kind string) {
	if m == nil {
		return
	}
	m.DeviceEvents.WithLabelValues(deviceName, kind).Inc()
}

// SetConnected records a device's connection state.
func (m *Metrics) SetConnected(deviceName string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.DeviceConnected.WithLabelValues(deviceName).Set(v)
}

// ProtocolError records one non-fatal client error.
func (m *Metrics) ProtocolError(component string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(component).Inc()
}

// SetWSClients records the dashboard client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// BroadcastSent records one snapshot broadcast.
func (m *Metrics) BroadcastSent() {
	if m == nil {
		return
	}
	m.WSBroadcasts.Inc()
}

// TSLPacketSent records one UMD packet to a destination.
func (m *Metrics) TSLPacketSent(destination string) {
	if m == nil {
		return
	}
	m.TSLPackets.WithLabelValues(destination).Inc()
}

// SetEmberConsumers records the connected consumer count.
func (m *Metrics) SetEmberConsumers(n int) {
	if m == nil {
		return
	}
	m.EmberConsumers.Set(float64(n))
}
