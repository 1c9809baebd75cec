package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/growroom-automation/internal/router"
)

func TestTopicSystem(t *testing.T) {
	if TopicSystem != "system/automation" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\ngot:  %s\nwant: %s", payload, want)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["system"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"automation":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestPublishSystem(t *testing.T) {
	bus := NewFakeBus()
	err := PublishSystem(bus, SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	if err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}
	got := bus.PublishedTo(TopicSystem)
	if len(got) != 1 || !got[0].Retained || got[0].QoS != 1 {
		t.Errorf("unexpected publishes: %+v", got)
	}

	bus.SetPublishError(errors.New("down"))
	if err := PublishSystem(bus, SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected error")
	}
}

func TestCommanderSetSwitch(t *testing.T) {
	bus := NewFakeBus()
	cmd := NewCommander(bus)
	if err := cmd.SetSwitch(context.Background(), "pump", true); err != nil {
		t.Fatalf("SetSwitch: %v", err)
	}
	got := bus.PublishedTo("switch/pump")
	if len(got) != 1 {
		t.Fatalf("publishes: %+v", bus.Published())
	}
	want := `{"pattern":"switch/pump","data":{"name":"pump","value":true}}`
	if string(got[0].Payload) != want {
		t.Errorf("payload:\ngot:  %s\nwant: %s", got[0].Payload, want)
	}
	if got[0].Retained {
		t.Error("switch commands must not be retained")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cmd.SetSwitch(ctx, "pump", false); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestListen(t *testing.T) {
	bus := NewFakeBus()
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	var got []router.Message
	if err := Listen(bus, "environment/+", func() time.Time { return at }, func(m router.Message) {
		got = append(got, m)
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	bus.Deliver("environment/temp", []byte(`{"data":{"value":24.5}}`))
	bus.Deliver("switch/temp", []byte(`{}`))
	if len(got) != 1 {
		t.Fatalf("messages: got %d, want 1", len(got))
	}
	if got[0].Class != router.ClassEnvironment || got[0].Name != "temp" || !got[0].Received.Equal(at) {
		t.Errorf("message: %+v", got[0])
	}
}

func TestListenDropsUnknownClass(t *testing.T) {
	bus := NewFakeBus()
	n := 0
	Listen(bus, "#", time.Now, func(router.Message) { n++ })
	bus.Deliver("nutrients/ph", []byte(`{}`))
	if n != 0 {
		t.Errorf("unknown topic class delivered")
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"switch/+", "switch/pump", true},
		{"switch/+", "switch/pump/extra", false},
		{"switch/+", "current/pump", false},
		{"switch/#", "switch/pump/extra", true},
		{"#", "anything/at/all", true},
		{"switch/pump", "switch/pump", true},
		{"switch/pump", "switch", false},
		{"+/pump", "current/pump", true},
	}
	for _, tt := range tests {
		if got := Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q): got %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestFakeBusLoopback(t *testing.T) {
	bus := NewFakeBus()
	bus.Loopback = true
	echoes := 0
	bus.Subscribe("switch/+", 1, func(string, []byte) { echoes++ })

	NewCommander(bus).SetSwitch(context.Background(), "led", true)
	if echoes != 1 {
		t.Errorf("echoes: got %d, want 1", echoes)
	}
}

func TestFakeBusClose(t *testing.T) {
	bus := NewFakeBus()
	if !bus.IsConnected() {
		t.Fatal("new fake bus should be connected")
	}
	bus.Close()
	if !bus.Closed || bus.IsConnected() {
		t.Error("Close should disconnect")
	}
}

func TestNewClientID(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	if a == b {
		t.Error("client ids must be unique")
	}
	if len(a) != len("growroom-")+8 {
		t.Errorf("unexpected client id %q", a)
	}
}
