package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File loads a snapshot from a YAML (or JSON) document with top-level
// machines and automations lists.
type File struct {
	Path string
}

type fileDoc struct {
	Machines    []Machine `yaml:"machines"`
	Automations []any     `yaml:"automations"`
}

// Load reads and decodes the file. Automation records go through the same
// lenient decoding as API records.
func (f File) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (Snapshot, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	raw := make([]json.RawMessage, 0, len(doc.Automations))
	for i, a := range doc.Automations {
		b, err := json.Marshal(a)
		if err != nil {
			return Snapshot{}, fmt.Errorf("automation record %d: %w", i, err)
		}
		raw = append(raw, b)
	}
	autos, errs := decodeAutomations(raw)
	if len(errs) > 0 {
		return Snapshot{}, errs[0]
	}
	return Snapshot{Machines: doc.Machines, Automations: autos}, nil
}
