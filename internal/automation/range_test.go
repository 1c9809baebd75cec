package automation

import (
	"testing"
	"time"
)

func TestRangeWindows(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		hour, min  int
		want       bool
	}{
		{"before start", "09:00", "18:00", 8, 59, false},
		{"at start", "09:00", "18:00", 9, 0, true},
		{"before end", "09:00", "18:00", 17, 59, true},
		{"at end", "09:00", "18:00", 18, 0, false},
		{"wrap evening", "22:00", "06:00", 23, 0, true},
		{"wrap early morning", "22:00", "06:00", 5, 59, true},
		{"wrap after end", "22:00", "06:00", 7, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(day(tt.hour, tt.min))
			dev := NewDevice(1, "led", 17)
			r := NewRange(dev, Config{
				DeviceID: 1, Category: CategoryRange, Active: true,
				Settings: map[string]any{"start_time": tt.start, "end_time": tt.end},
			}, h.deps)
			defer r.Close()

			if err := r.Control(ctx); err != nil {
				t.Fatalf("Control: %v", err)
			}
			if dev.Status() != tt.want {
				t.Errorf("status: got %v, want %v", dev.Status(), tt.want)
			}
			if tt.want {
				wantCommands(t, h.cmd.Commands(), Command{"led", true})
			} else {
				wantCommands(t, h.cmd.Commands())
			}
		})
	}
}

func TestRangeBoundaryTimer(t *testing.T) {
	h := newHarness(day(8, 59))
	dev := NewDevice(1, "led", 0)
	r := NewRange(dev, Config{Active: true, Settings: map[string]any{"start": "09:00", "end": "18:00"}}, h.deps)
	defer r.Close()

	if err := r.Control(ctx); err != nil {
		t.Fatalf("Control: %v", err)
	}
	if at := r.Status().PendingOn; !at.Equal(day(9, 0)) {
		t.Fatalf("PendingOn: got %v, want 09:00", at)
	}

	h.clock.Advance(time.Minute)
	wantCommands(t, h.cmd.Commands(), Command{"led", true})
	if at := r.Status().PendingOff; !at.Equal(day(18, 0)) {
		t.Errorf("PendingOff: got %v, want 18:00", at)
	}

	h.clock.Set(day(17, 59))
	h.clock.Advance(time.Minute)
	wantCommands(t, h.cmd.Commands(), Command{"led", true}, Command{"led", false})
}

func TestRangeInvalidForcesOff(t *testing.T) {
	h := newHarness(day(12, 0))
	dev := NewDevice(1, "led", 0)
	dev.SetStatus(true, day(11, 0))
	r := NewRange(dev, Config{Active: true, Settings: map[string]any{"start": "25:00", "end": "18:00"}}, h.deps)
	defer r.Close()

	if err := r.Control(ctx); err != nil {
		t.Fatalf("Control must not fail on bad settings: %v", err)
	}
	wantCommands(t, h.cmd.Commands(), Command{"led", false})
	if r.Status().Error == "" {
		t.Error("expected Status().Error for invalid window")
	}

	// Already off: no repeated command.
	r.Control(ctx)
	if n := len(h.cmd.Commands()); n != 1 {
		t.Errorf("commands after second Control: got %d, want 1", n)
	}
}

func TestRangeInactiveIsNoop(t *testing.T) {
	h := newHarness(day(12, 0))
	dev := NewDevice(1, "led", 0)
	r := NewRange(dev, Config{Active: false, Settings: map[string]any{"start": "09:00", "end": "18:00"}}, h.deps)
	defer r.Close()

	r.Control(ctx)
	wantCommands(t, h.cmd.Commands())
	if h.deps.Windows.IsOn("led", day(12, 0)) {
		t.Error("inactive window must read as off")
	}
}

func TestRangeSettingsUpdate(t *testing.T) {
	h := newHarness(day(12, 0))
	dev := NewDevice(1, "led", 0)
	r := NewRange(dev, Config{Active: true, Settings: map[string]any{"start": "09:00", "end": "18:00"}}, h.deps)
	defer r.Close()
	r.Control(ctx)

	m := message(t, "automation/led", `{"data":{"value":{"active":true,"start_time":"13:00","end_time":"14:00"}}}`)
	if err := r.HandleMessage(ctx, m); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	wantCommands(t, h.cmd.Commands(), Command{"led", true}, Command{"led", false})
	if got := r.Status().Detail; got != "13:00-14:00" {
		t.Errorf("Detail: got %q", got)
	}
}

func TestRangeSwitchEcho(t *testing.T) {
	h := newHarness(day(12, 0))
	dev := NewDevice(1, "led", 0)
	r := NewRange(dev, Config{Active: true, Settings: map[string]any{"start": "09:00", "end": "18:00"}}, h.deps)
	defer r.Close()

	if err := r.HandleMessage(ctx, switchMsg(t, "led", true)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !dev.Status() {
		t.Error("echo should set status ON")
	}
	r.Control(ctx)
	wantCommands(t, h.cmd.Commands())
}
