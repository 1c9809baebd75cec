package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/automation"
	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/config"
	"github.com/sweeney/growroom-automation/internal/gpio"
	"github.com/sweeney/growroom-automation/internal/metrics"
	"github.com/sweeney/growroom-automation/internal/mqtt"
	"github.com/sweeney/growroom-automation/internal/snapshot"
	"github.com/sweeney/growroom-automation/internal/status"
	"github.com/sweeney/growroom-automation/internal/store"
)

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// stillTicker never fires, so only the initial Control of each worker runs.
func stillTicker(time.Duration) (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

type fixture struct {
	bus     *mqtt.FakeBus
	kv      *store.FakeKV
	relay   *gpio.FakeRelay
	tracker *status.Tracker
	d       *daemon
}

func testSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Machines: []snapshot.Machine{
			{ID: 1, Name: "led", Pin: 17},
			{ID: 2, Name: "pump"},
		},
		Automations: []automation.Config{
			{DeviceID: 1, Category: automation.CategoryRange, Active: true,
				Settings: map[string]any{"start": "06:00", "end": "22:00"}},
			{DeviceID: 9, Category: automation.CategoryRange, Active: true},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Heartbeat = time.Minute

	f := &fixture{
		bus:     mqtt.NewFakeBus(),
		kv:      store.NewFakeKV(),
		relay:   gpio.NewFakeRelay(),
		tracker: status.NewTracker(noon, "test", status.Config{Broker: cfg.MQTT.Broker}),
	}
	f.bus.Loopback = true
	d, err := build(wiring{
		cfg:      cfg,
		snap:     testSnapshot(),
		kv:       f.kv,
		bus:      f.bus,
		follower: gpio.NewFollower(f.relay, testSnapshot().Pins(), zap.NewNop()),
		clock:    clock.NewFake(noon),
		tracker:  f.tracker,
		metrics:  metrics.New(),
		logger:   zap.NewNop(),
		ticker:   stillTicker,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f.d = d
	return f
}

func eventsOf(t *testing.T, bus *mqtt.FakeBus) []status.StatusInner {
	t.Helper()
	var out []status.StatusInner
	for _, p := range bus.PublishedTo(mqtt.TopicSystem) {
		var sj status.StatusJSON
		if err := json.Unmarshal(p.Payload, &sj); err != nil {
			t.Fatalf("system payload: %v", err)
		}
		out = append(out, sj.Status)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	if f.d.automations != 1 {
		t.Errorf("automations: got %d, want 1 (device 9 is unknown)", f.d.automations)
	}
	filters := f.bus.Filters()
	sort.Strings(filters)
	want := []string{"automation/+", "current/+", "environment/+", "switch/+"}
	if strings.Join(filters, ",") != strings.Join(want, ",") {
		t.Errorf("filters: got %v, want %v", filters, want)
	}
	topics := strings.Join(f.d.router.Topics(), ",")
	for _, topic := range []string{"automation/led", "switch/led", "current/led", "switch/pump", "current/pump"} {
		if !strings.Contains(topics, topic) {
			t.Errorf("router missing %s in %s", topic, topics)
		}
	}
}

func TestRunLoopLifecycle(t *testing.T) {
	f := newFixture(t)
	tick := make(chan time.Time)
	sig := make(chan os.Signal)
	errc := make(chan error, 1)
	go func() { errc <- runLoop(f.d, func() time.Time { return noon }, tick, sig) }()

	// Inside the window the range worker switches the light on; the
	// loopback echo reaches the mirror and the relay follower.
	waitFor(t, "switch/led", func() bool { return len(f.bus.PublishedTo("switch/led")) > 0 })
	waitFor(t, "mirror write", func() bool { return f.kv.Value(store.SwitchKey("led")) == "true" })
	waitFor(t, "relay write", func() bool { return f.relay.Pin(17) })

	tick <- noon.Add(5 * time.Second)
	sig <- syscall.SIGTERM
	if err := <-errc; err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	events := eventsOf(t, f.bus)
	if len(events) != 2 {
		t.Fatalf("system events: got %d, want 2", len(events))
	}
	if events[0].Event != "STARTUP" || events[1].Event != "SHUTDOWN" || events[1].Reason != "SIGTERM" {
		t.Errorf("events: %s, %s/%s", events[0].Event, events[1].Event, events[1].Reason)
	}
	for _, p := range f.bus.PublishedTo(mqtt.TopicSystem) {
		if !p.Retained || p.QoS != 1 {
			t.Errorf("lifecycle events must be retained QoS 1: %+v", p)
		}
	}
	last := events[1]
	if len(last.Devices) != 1 || last.Devices[0].Name != "led" || last.Devices[0].State != "ON" {
		t.Errorf("shutdown devices: %+v", last.Devices)
	}
	if !last.MQTT.Connected {
		t.Error("expected MQTT connected in shutdown status")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	f := newFixture(t)
	tick := make(chan time.Time)
	sig := make(chan os.Signal)
	errc := make(chan error, 1)
	go func() { errc <- runLoop(f.d, func() time.Time { return noon }, tick, sig) }()

	for _, offset := range []time.Duration{30 * time.Second, 61 * time.Second, 90 * time.Second, 122 * time.Second} {
		tick <- noon.Add(offset)
	}
	sig <- syscall.SIGINT
	if err := <-errc; err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	var beats int
	for _, e := range eventsOf(t, f.bus) {
		if e.Event == "HEARTBEAT" {
			beats++
		}
	}
	if beats != 2 {
		t.Errorf("heartbeats: got %d, want 2", beats)
	}
	for _, p := range f.bus.PublishedTo(mqtt.TopicSystem) {
		if strings.Contains(string(p.Payload), "HEARTBEAT") && p.Retained {
			t.Error("heartbeat should not be retained")
		}
	}
	if snap := f.tracker.Snapshot(); !snap.Ready {
		t.Error("tracker should be ready after a tick")
	}
}

func TestRunLoopPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.bus.SetPublishError(errTest)
	tick := make(chan time.Time)
	sig := make(chan os.Signal)
	errc := make(chan error, 1)
	go func() { errc <- runLoop(f.d, func() time.Time { return noon }, tick, sig) }()

	tick <- noon.Add(2 * time.Minute)
	sig <- syscall.SIGTERM
	if err := <-errc; err != nil {
		t.Fatalf("publish failures must not stop the loop: %v", err)
	}
}

var errTest = errors.New("broker unavailable")

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestMergePins(t *testing.T) {
	got := mergePins(map[string]int{"led": 17, "pump": 22}, map[string]int{"pump": 27, "fan": 5})
	if got["led"] != 17 || got["pump"] != 27 || got["fan"] != 5 || len(got) != 3 {
		t.Errorf("mergePins: %v", got)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version: got %q", out.String())
	}
}

func TestSnapshotCommand(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "snapshot.yaml")
	os.WriteFile(snapPath, []byte(`
machines:
  - {id: 1, name: led, pin: 17}
automations:
  - {device_id: 1, category: range, active: true, settings: {start: "06:00", end: "22:00"}}
`), 0o600)
	cfgPath := filepath.Join(dir, "growroom.yaml")
	os.WriteFile(cfgPath, []byte("snapshot_file: "+snapPath+"\nlog:\n  level: error\n"), 0o600)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"snapshot", "-c", cfgPath, "--env-file", filepath.Join(dir, "missing.env")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "1 machines, 1 automations") || !strings.Contains(text, "led") {
		t.Errorf("output: %q", text)
	}
}

func TestSnapshotCommandBadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"snapshot", "-c", filepath.Join(t.TempDir(), "nope.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config")
	}
}
