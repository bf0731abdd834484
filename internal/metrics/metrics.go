// Package metrics exposes the bridge's Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components take it as an
// optional dependency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hidbridge"

// Dispatch results recorded by RecordDispatch.
const (
	DispatchPublished      = "published"
	DispatchThrottled      = "throttled"
	DispatchEchoSuppressed = "echo_suppressed"
	DispatchFailed         = "failed"
)

// Discovery results recorded by RecordDiscovery.
const (
	DiscoveryAccepted = "accepted"
	DiscoveryInvalid  = "invalid"
	DiscoveryStale    = "stale"
)

// Metrics holds the bridge collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	snapshots  *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	commands   *prometheus.CounterVec
	discovery  *prometheus.CounterVec

	bridges     prometheus.Gauge
	controllers prometheus.Gauge
	pending     prometheus.Gauge
	connected   prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "snapshots_total",
			Help:      "Climate state changes fanned out, by climate entity",
		}, []string{"climate_entity"}),

		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "dispatches_total",
			Help:      "Snapshot deliveries to controllers, by result",
		}, []string{"result"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "commands_total",
			Help:      "Device commands relayed to climate entities",
		}, []string{"command", "result"}),

		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "messages_total",
			Help:      "Discovery announcements handled, by result",
		}, []string{"result"}),

		bridges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridges",
			Help:      "Climate bridges currently active",
		}),

		controllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controllers",
			Help:      "Controllers currently registered",
		}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_registrations",
			Help:      "Entries waiting for device discovery",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "MQTT broker connection state (1=connected)",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.snapshots, m.dispatches, m.commands, m.discovery,
		m.bridges, m.controllers, m.pending, m.connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSnapshot counts one fan-out for climateEntityID.
func (m *Metrics) RecordSnapshot(climateEntityID string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(climateEntityID).Inc()
}

// RecordDispatch counts one controller delivery with result.
func (m *Metrics) RecordDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// RecordCommand counts a relayed device command.
func (m *Metrics) RecordCommand(command string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// RecordDiscovery counts one discovery message with result.
func (m *Metrics) RecordDiscovery(result string) {
	if m == nil {
		return
	}
	m.discovery.WithLabelValues(result).Inc()
}

// SetTopology records the current bridge, controller and pending counts.
func (m *Metrics) SetTopology(bridges, controllers, pending int) {
	if m == nil {
		return
	}
	m.bridges.Set(float64(bridges))
	m.controllers.Set(float64(controllers))
	m.pending.Set(float64(pending))
}

// SetConnected records the MQTT connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
