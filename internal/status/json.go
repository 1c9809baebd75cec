package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/growroom-automation/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	InstanceID    string         `json:"instance_id"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Devices       []DeviceJSON   `json:"devices"`
	Corrections   int            `json:"reconcile_corrections"`
	Restarts      map[string]int `json:"worker_restarts,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DeviceJSON is the JSON representation of one automation.
type DeviceJSON struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Active     bool     `json:"active"`
	State      string   `json:"state"`
	Changed    string   `json:"changed,omitempty"`
	LastToggle string   `json:"last_toggle,omitempty"`
	NextOn     string   `json:"next_on,omitempty"`
	NextOff    string   `json:"next_off,omitempty"`
	Reading    *float64 `json:"reading,omitempty"`
	InRange    int      `json:"in_range,omitempty"`
	Mismatches int      `json:"mismatches,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Version             string `json:"version,omitempty"`
	Broker              string `json:"broker"`
	HTTPAddr            string `json:"http_addr"`
	Store               string `json:"store"`
	ControlIntervalMs   int64  `json:"control_interval_ms"`
	ReconcileIntervalMs int64  `json:"reconcile_interval_ms"`
	HeartbeatMs         int64  `json:"heartbeat_ms"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	devices := make([]DeviceJSON, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		devices = append(devices, DeviceJSON{
			Name:       d.Name,
			Category:   d.Category,
			Active:     d.Active,
			State:      string(logic.StateOf(d.On)),
			Changed:    stamp(d.Changed),
			LastToggle: stamp(d.LastToggle),
			NextOn:     stamp(d.PendingOn),
			NextOff:    stamp(d.PendingOff),
			Reading:    d.Reading,
			InRange:    d.InRange,
			Mismatches: d.Mismatches,
			Detail:     d.Detail,
			Error:      d.Error,
		})
	}
	return StatusInner{
		InstanceID:    snap.InstanceID,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Devices:       devices,
		Corrections:   snap.Corrections,
		Restarts:      snap.Restarts,
		Config: ConfigJSON{
			Version:             snap.Config.Version,
			Broker:              snap.Config.Broker,
			HTTPAddr:            snap.Config.HTTPAddr,
			Store:               snap.Config.Store,
			ControlIntervalMs:   snap.Config.ControlInterval.Milliseconds(),
			ReconcileIntervalMs: snap.Config.ReconcileInterval.Milliseconds(),
			HeartbeatMs:         snap.Config.Heartbeat.Milliseconds(),
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
