// Package metrics exposes daemon counters in Prometheus format. It
// observes switch commands, reconcile corrections and worker restarts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/growroom-automation/internal/logic"
)

const namespace = "growroom"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry    *prometheus.Registry
	commands    *prometheus.CounterVec
	deviceOn    *prometheus.GaugeVec
	corrections *prometheus.CounterVec
	restarts    *prometheus.CounterVec
	mqtt        prometheus.Gauge
	heartbeat   prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switch_commands_total",
			Help:      "Switch commands issued by automations",
		}, []string{"device", "state", "source"}),
		deviceOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_on",
			Help:      "Last commanded device state (1 = ON, 0 = OFF)",
		}, []string{"device"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_corrections_total",
			Help:      "Forced switches issued by the current-sensor reconciler",
		}, []string{"device"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Supervised worker restarts after an error or panic",
		}, []string{"worker"}),
		mqtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "MQTT connection status (1 = connected)",
		}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the last heartbeat event",
		}),
	}
	m.registry.MustRegister(m.commands, m.deviceOn, m.corrections, m.restarts, m.mqtt, m.heartbeat)
	return m
}

// SwitchCommanded records a switch command issued by an automation.
func (m *Metrics) SwitchCommanded(device string, on bool, source string) {
	m.commands.WithLabelValues(device, string(logic.StateOf(on)), source).Inc()
	m.deviceOn.WithLabelValues(device).Set(boolValue(on))
}

// Corrected records a reconcile correction.
func (m *Metrics) Corrected(device string, on bool) {
	m.corrections.WithLabelValues(device).Inc()
	m.deviceOn.WithLabelValues(device).Set(boolValue(on))
}

// Restart records a supervised worker restart.
func (m *Metrics) Restart(worker string) {
	m.restarts.WithLabelValues(worker).Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	m.mqtt.Set(boolValue(connected))
}

// Heartbeat records the time of a heartbeat in unix seconds.
func (m *Metrics) Heartbeat(unix float64) {
	m.heartbeat.Set(unix)
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
