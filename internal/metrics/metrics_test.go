package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestSwitchCommanded(t *testing.T) {
	m := New()
	m.SwitchCommanded("led", true, "range")
	m.SwitchCommanded("led", true, "range")
	m.SwitchCommanded("led", false, "range")

	out := scrape(t, m)
	for _, want := range []string{
		`growroom_switch_commands_total{device="led",source="range",state="ON"} 2`,
		`growroom_switch_commands_total{device="led",source="range",state="OFF"} 1`,
		`growroom_device_on{device="led"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCorrectionsAndRestarts(t *testing.T) {
	m := New()
	m.Corrected("pump", true)
	m.Restart("automation/pump")
	m.Restart("automation/pump")
	m.SetMQTTConnected(true)
	m.Heartbeat(1767225600)

	out := scrape(t, m)
	for _, want := range []string{
		`growroom_reconcile_corrections_total{device="pump"} 1`,
		`growroom_device_on{device="pump"} 1`,
		`growroom_worker_restarts_total{worker="automation/pump"} 2`,
		`growroom_mqtt_connected 1`,
		`growroom_last_heartbeat_timestamp_seconds 1.7672256e+09`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPrivateRegistries(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	a, b := New(), New()
	a.Restart("x")
	if strings.Contains(scrape(t, b), `worker="x"`) {
		t.Error("registries should be independent")
	}
}
