// Package snapshot loads the configuration snapshot: the device list and
// automation records. It comes from the management API or a YAML file.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sweeney/growroom-automation/internal/automation"
)

// Machine is one switchable device as the API reports it.
type Machine struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Pin  int    `json:"pin" yaml:"pin"`
}

// Snapshot is the loaded configuration.
type Snapshot struct {
	Machines    []Machine           `json:"machines"`
	Automations []automation.Config `json:"automations"`
}

// Source loads a snapshot.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Registry builds a device registry. Machines without a name are skipped;
// a repeated ID keeps the first entry.
func (s Snapshot) Registry() *automation.Registry {
	reg := automation.NewRegistry()
	for _, m := range s.Machines {
		if m.Name == "" {
			continue
		}
		if _, dup := reg.ByID(m.ID); dup {
			continue
		}
		reg.Add(automation.NewDevice(m.ID, m.Name, m.Pin))
	}
	return reg
}

// Pins returns device name to GPIO pin for machines with a pin.
func (s Snapshot) Pins() map[string]int {
	pins := make(map[string]int)
	for _, m := range s.Machines {
		if m.Name != "" && m.Pin > 0 {
			pins[m.Name] = m.Pin
		}
	}
	return pins
}

// Summary returns one line per automation, sorted by device name.
func (s Snapshot) Summary() []string {
	reg := s.Registry()
	lines := make([]string, 0, len(s.Automations))
	for _, a := range s.Automations {
		name := fmt.Sprintf("#%d", a.DeviceID)
		if d, ok := reg.ByID(a.DeviceID); ok {
			name = d.Name
		}
		state := "inactive"
		if a.Active {
			state = "active"
		}
		settings, _ := json.Marshal(a.Settings)
		lines = append(lines, fmt.Sprintf("%-12s %-9s %-8s %s", name, a.Category, state, settings))
	}
	sort.Strings(lines)
	return lines
}

// decodeAutomations decodes a list of records, keeping the good ones.
// Records that fail are returned as errors alongside.
func decodeAutomations(raw []json.RawMessage) ([]automation.Config, []error) {
	var (
		out  []automation.Config
		errs []error
	)
	for i, r := range raw {
		var c automation.Config
		if err := json.Unmarshal(r, &c); err != nil {
			errs = append(errs, fmt.Errorf("automation record %d: %w", i, err))
			continue
		}
		out = append(out, c)
	}
	return out, errs
}
