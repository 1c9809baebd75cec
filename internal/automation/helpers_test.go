package automation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/store"
)

var ctx = context.Background()

type harness struct {
	clock *clock.Fake
	cmd   *FakeCommander
	kv    *store.FakeKV
	rec   *store.Recovery
	deps  Deps
}

func newHarness(now time.Time) *harness {
	h := &harness{
		clock: clock.NewFake(now),
		cmd:   &FakeCommander{},
		kv:    store.NewFakeKV(),
	}
	h.rec = store.NewRecovery(h.kv)
	h.deps = Deps{
		Commander: h.cmd,
		Recovery:  h.rec,
		Clock:     h.clock,
		Windows:   NewWindowIndex(),
	}
	return h
}

func day(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func message(t *testing.T, topic, payload string) router.Message {
	t.Helper()
	m, ok := router.NewMessage(topic, []byte(payload), time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatalf("NewMessage(%q) rejected", topic)
	}
	return m
}

func switchMsg(t *testing.T, name string, on bool) router.Message {
	return message(t, "switch/"+name,
		fmt.Sprintf(`{"pattern":"switch/%s","data":{"name":%q,"value":%v}}`, name, name, on))
}

func readingMsg(t *testing.T, name string, v float64) router.Message {
	return message(t, "environment/"+name, fmt.Sprintf(`{"data":{"value":%v}}`, v))
}

func wantCommands(t *testing.T, got []Command, want ...Command) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("commands: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
