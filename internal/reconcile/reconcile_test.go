package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/store"
)

type call struct {
	name string
	on   bool
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeCommander) SetSwitch(ctx context.Context, name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, call{name, on})
	return nil
}

func (f *fakeCommander) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeObserver struct{ n int }

func (o *fakeObserver) Corrected(string, bool) { o.n++ }

func names(n ...string) func() []string { return func() []string { return n } }

func newTest(threshold int, devs ...string) (*Reconciler, *store.FakeKV, *fakeCommander) {
	kv := store.NewFakeKV()
	cmd := &fakeCommander{}
	r := New(kv, cmd, names(devs...), Options{
		Threshold: threshold,
		Clock:     clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
	})
	return r, kv, cmd
}

func TestDebounce(t *testing.T) {
	ctx := context.Background()
	r, kv, cmd := newTest(3, "pump")
	kv.Put("switch/pump", "false")
	kv.Put("current/pump", "true")

	r.Poll(ctx)
	r.Poll(ctx)
	if cmd.count() != 0 {
		t.Fatalf("forced after 2 polls: %v", cmd.calls)
	}
	if got := r.Snapshot().Devices[0].Mismatches; got != 2 {
		t.Errorf("Mismatches: got %d, want 2", got)
	}

	r.Poll(ctx)
	if cmd.count() != 1 {
		t.Fatalf("calls after 3rd poll: got %d, want 1", cmd.count())
	}
	if cmd.calls[0] != (call{"pump", true}) {
		t.Errorf("forced command: got %+v, want pump ON", cmd.calls[0])
	}
	snap := r.Snapshot()
	if snap.Devices[0].Mismatches != 0 {
		t.Errorf("counter not reset: %d", snap.Devices[0].Mismatches)
	}
	if snap.Corrections != 1 {
		t.Errorf("Corrections: got %d, want 1", snap.Corrections)
	}
	if kv.Value("switch/pump") != "true" {
		t.Errorf("switch mirror: got %q, want true", kv.Value("switch/pump"))
	}

	r.Poll(ctx)
	if cmd.count() != 1 {
		t.Errorf("extra command after correction: %v", cmd.calls)
	}
}

func TestAgreementResets(t *testing.T) {
	ctx := context.Background()
	r, kv, cmd := newTest(3, "fan")
	kv.Put("switch/fan", "true")
	kv.Put("current/fan", "0.0")

	r.Poll(ctx)
	r.Poll(ctx)
	kv.Put("current/fan", "2.4")
	r.Poll(ctx)
	if got := r.Snapshot().Devices[0].Mismatches; got != 0 {
		t.Fatalf("Mismatches after agreement: got %d, want 0", got)
	}
	kv.Put("current/fan", "0")
	r.Poll(ctx)
	r.Poll(ctx)
	if cmd.count() != 0 {
		t.Errorf("forced before threshold: %v", cmd.calls)
	}
	r.Poll(ctx)
	if cmd.count() != 1 || cmd.calls[0].on {
		t.Errorf("want one forced OFF, got %v", cmd.calls)
	}
}

func TestMissingKeys(t *testing.T) {
	ctx := context.Background()
	r, kv, cmd := newTest(1, "a", "b")
	// a: no current reading, never touched.
	kv.Put("switch/a", "true")
	// b: current ON but no switch record, which counts as OFF.
	kv.Put("current/b", "on")

	r.Poll(ctx)
	if cmd.count() != 1 || cmd.calls[0] != (call{"b", true}) {
		t.Errorf("got %v, want one forced b ON", cmd.calls)
	}
	for _, d := range r.Snapshot().Devices {
		if d.Name == "a" {
			t.Error("device without current reading should be skipped")
		}
	}
}

func TestCurrentThreshold(t *testing.T) {
	ctx := context.Background()
	kv := store.NewFakeKV()
	cmd := &fakeCommander{}
	r := New(kv, cmd, names("heater"), Options{Threshold: 1, CurrentThreshold: 0.5})
	kv.Put("switch/heater", "true")
	kv.Put("current/heater", "0.3")

	r.Poll(ctx)
	if cmd.count() != 1 || cmd.calls[0].on {
		t.Errorf("0.3A below 0.5A threshold should force OFF, got %v", cmd.calls)
	}
}

func TestForcedSwitchFailureRetries(t *testing.T) {
	ctx := context.Background()
	r, kv, cmd := newTest(2, "pump")
	obs := &fakeObserver{}
	r.opts.Observer = obs
	kv.Put("current/pump", "true")
	cmd.err = errors.New("broker down")

	r.Poll(ctx)
	r.Poll(ctx)
	if r.Snapshot().Corrections != 0 {
		t.Fatal("failed publish must not count as a correction")
	}

	cmd.err = nil
	r.Poll(ctx)
	if cmd.count() != 1 {
		t.Errorf("retry: got %d calls, want 1", cmd.count())
	}
	if obs.n != 1 {
		t.Errorf("observer: got %d, want 1", obs.n)
	}
}

func TestReadErrorSkips(t *testing.T) {
	ctx := context.Background()
	r, kv, cmd := newTest(1, "pump")
	kv.GetError = errors.New("timeout")

	r.Poll(ctx)
	if cmd.count() != 0 {
		t.Errorf("unexpected command on read error: %v", cmd.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, kv, cmd := newTest(1, "pump")
	kv.Put("current/pump", "1")
	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, tick) }()

	tick <- time.Now()
	tick <- time.Now() // second send guarantees the first poll finished
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if cmd.count() != 1 {
		t.Errorf("calls: got %d, want 1", cmd.count())
	}
	if r.Snapshot().LastPoll.IsZero() {
		t.Error("LastPoll not recorded")
	}
}
