package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTracker() *Tracker {
	tr := NewTracker(start, "abc123", Config{
		Broker:          "tcp://localhost:1883",
		HTTPAddr:        ":8080",
		Store:           "redis",
		ControlInterval: time.Minute,
		Heartbeat:       15 * time.Minute,
	})
	tr.SetClock(func() time.Time { return start.Add(90 * time.Second) })
	return tr
}

func TestNewTracker(t *testing.T) {
	tr := fixedTracker()
	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Ready {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v", snap.Uptime())
	}
}

func TestUpdateCopies(t *testing.T) {
	tr := fixedTracker()
	devices := []Device{{Name: "led", Category: "range", Active: true, On: true}, {Name: "pump"}}
	restarts := map[string]int{"automation/pump": 1}
	tr.Update(devices, 2, restarts)

	devices[0].On = false
	restarts["automation/pump"] = 9

	snap := tr.Snapshot()
	if !snap.Ready {
		t.Error("expected Ready=true after Update")
	}
	if !snap.Devices[0].On {
		t.Error("snapshot must not alias the caller's slice")
	}
	if snap.Restarts["automation/pump"] != 1 {
		t.Error("snapshot must not alias the caller's map")
	}
	if snap.On() != 1 {
		t.Errorf("On: got %d, want 1", snap.On())
	}
	if snap.Corrections != 2 {
		t.Errorf("Corrections: got %d", snap.Corrections)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), "x", Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Update([]Device{{Name: "led", On: true}}, 1, nil)
			tr.SetMQTTConnected(true)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
}

func TestFormatJSON(t *testing.T) {
	tr := fixedTracker()
	reading := 24.5
	tr.Update([]Device{
		{Name: "heater", Category: "target", Active: true, On: true, Reading: &reading, InRange: 2,
			Changed: start.Add(time.Minute)},
		{Name: "pump", Category: "interval", Active: true, PendingOn: start.Add(2 * time.Minute)},
	}, 3, map[string]int{"automation/pump": 1})
	tr.SetMQTTConnected(true)

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := sj.Status
	if s.Event != "" || s.Reason != "" {
		t.Error("web JSON must not carry event/reason")
	}
	if s.InstanceID != "abc123" || !s.Ready || s.UptimeSeconds != 90 {
		t.Errorf("header fields: %+v", s)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: %+v", s.MQTT)
	}
	if len(s.Devices) != 2 {
		t.Fatalf("devices: %+v", s.Devices)
	}
	h := s.Devices[0]
	if h.State != "ON" || h.Reading == nil || *h.Reading != 24.5 || h.InRange != 2 {
		t.Errorf("heater: %+v", h)
	}
	if h.Changed != "2026-01-01T00:01:00Z" {
		t.Errorf("heater changed: %q", h.Changed)
	}
	p := s.Devices[1]
	if p.State != "OFF" || p.NextOn != "2026-01-01T00:02:00Z" || p.NextOff != "" {
		t.Errorf("pump: %+v", p)
	}
	if s.Corrections != 3 || s.Restarts["automation/pump"] != 1 {
		t.Errorf("counters: corrections=%d restarts=%v", s.Corrections, s.Restarts)
	}
	if s.Config.ControlIntervalMs != 60000 || s.Config.HeartbeatMs != 900000 {
		t.Errorf("config: %+v", s.Config)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker()
	data := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")
	if strings.Contains(string(data), "\n") {
		t.Error("event payload should be compact")
	}
	var sj StatusJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("event fields: %+v", sj.Status)
	}
	if sj.Status.Devices == nil {
		t.Error("devices should encode as an empty list, not null")
	}
}
