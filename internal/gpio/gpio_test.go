package gpio

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/router"
)

func switchMsg(t *testing.T, name string, on bool) router.Message {
	t.Helper()
	m, ok := router.NewMessage("switch/"+name,
		[]byte(fmt.Sprintf(`{"pattern":"switch/%s","data":{"name":%q,"value":%v}}`, name, name, on)),
		time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("NewMessage rejected switch topic")
	}
	return m
}

func TestFollowerDrivesPins(t *testing.T) {
	relay := NewFakeRelay()
	f := NewFollower(relay, map[string]int{"led": 17, "pump": 27, "virtual": 0}, zap.NewNop())

	if got := f.Pins(); len(got) != 2 || got[0] != 17 || got[1] != 27 {
		t.Fatalf("Pins: %v", got)
	}

	f.Handle(switchMsg(t, "led", true))
	f.Handle(switchMsg(t, "pump", true))
	f.Handle(switchMsg(t, "pump", false))
	f.Handle(switchMsg(t, "virtual", true))
	f.Handle(switchMsg(t, "unknown", true))

	want := []Write{{17, true}, {27, true}, {27, false}}
	got := relay.Writes()
	if len(got) != len(want) {
		t.Fatalf("writes: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if !relay.Pin(17) || relay.Pin(27) {
		t.Errorf("pin states: 17=%v 27=%v", relay.Pin(17), relay.Pin(27))
	}
}

func TestFollowerSkipsRepeats(t *testing.T) {
	relay := NewFakeRelay()
	f := NewFollower(relay, map[string]int{"led": 17}, zap.NewNop())

	f.Handle(switchMsg(t, "led", true))
	f.Handle(switchMsg(t, "led", true))
	if n := len(relay.Writes()); n != 1 {
		t.Errorf("writes: got %d, want 1", n)
	}
	if !f.States()["led"] {
		t.Error("state should be ON")
	}
}

func TestFollowerIgnoresOtherClasses(t *testing.T) {
	relay := NewFakeRelay()
	f := NewFollower(relay, map[string]int{"led": 17}, zap.NewNop())

	m, _ := router.NewMessage("current/led", []byte(`{"data":{"value":true}}`), time.Now())
	f.Handle(m)
	if n := len(relay.Writes()); n != 0 {
		t.Errorf("writes: got %d, want 0", n)
	}
}

func TestFollowerWriteErrorRetries(t *testing.T) {
	relay := NewFakeRelay()
	relay.SetError = errors.New("line busy")
	f := NewFollower(relay, map[string]int{"led": 17}, zap.NewNop())

	f.Handle(switchMsg(t, "led", true))
	if _, ok := f.States()["led"]; ok {
		t.Fatal("failed write must not be recorded")
	}

	relay.SetError = nil
	f.Handle(switchMsg(t, "led", true))
	if n := len(relay.Writes()); n != 1 {
		t.Errorf("writes after retry: got %d, want 1", n)
	}
}

func TestFakeRelayClose(t *testing.T) {
	relay := NewFakeRelay()
	relay.Close()
	if !relay.Closed {
		t.Error("expected Closed=true")
	}
}

func TestFollowerCloseReleasesRelay(t *testing.T) {
	relay := NewFakeRelay()
	f := NewFollower(relay, map[string]int{"led": 17, "pump": 0}, zap.NewNop())
	if got := f.Pins(); len(got) != 1 || got[0] != 17 {
		t.Errorf("pins: got %v, want [17]", got)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !relay.Closed {
		t.Error("expected relay to be closed")
	}
}
