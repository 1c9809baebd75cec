package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
)

// Category selects the control strategy.
type Category string

const (
	CategoryRange    Category = "range"
	CategoryInterval Category = "interval"
	CategoryTarget   Category = "target"
)

var (
	// ErrUnknownCategory is returned by the factory for unsupported categories.
	ErrUnknownCategory = errors.New("unknown automation category")

	// ErrDeviceNotFound is returned when a referenced device is not in the registry.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDuplicateAutomation is reported when two records target one device.
	ErrDuplicateAutomation = errors.New("device already has an automation")
)

// Config is one automation record from the configuration snapshot.
type Config struct {
	DeviceID  int            `json:"device_id" yaml:"device_id"`
	Category  Category       `json:"category" yaml:"category"`
	Active    bool           `json:"active" yaml:"active"`
	Settings  map[string]any `json:"settings" yaml:"settings"`
	UpdatedAt string         `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// UnmarshalJSON accepts both snake_case and camelCase keys, a device_id
// given as an object ({"id": 3, "name": "led"}), and settings inlined at
// the top level instead of under "settings".
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := deviceIDOf(first(raw, "device_id", "deviceId"))
	if err != nil {
		return fmt.Errorf("automation record: %w", err)
	}
	c.DeviceID = id
	c.Category = Category(strings.ToLower(fmt.Sprint(first(raw, "category"))))
	// The API reports active as 0/1.
	if v := first(raw, "active"); v != nil {
		active, err := router.ParseBoolValue(v)
		if err != nil {
			return fmt.Errorf("automation record %d: active: %w", id, err)
		}
		c.Active = active
	}
	c.UpdatedAt, _ = first(raw, "updated_at", "updatedAt").(string)

	if s, ok := raw["settings"].(map[string]any); ok {
		c.Settings = s
	} else {
		c.Settings = filterSettings(raw)
		delete(c.Settings, "category")
		delete(c.Settings, "deviceId")
		delete(c.Settings, "updatedAt")
	}
	return nil
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func deviceIDOf(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("device_id %q: %w", x, err)
		}
		return n, nil
	case map[string]any:
		return deviceIDOf(first(x, "id", "machine_id"))
	case nil:
		return 0, errors.New("missing device_id")
	}
	return 0, fmt.Errorf("device_id: unsupported type %T", v)
}

// filterSettings returns a copy of settings without bookkeeping keys.
func filterSettings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch k {
		case "id", "active", "updated_at", "device_id", "created_at":
			continue
		}
		out[k] = v
	}
	return out
}

// lookup returns the first present key.
func lookup(settings map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := settings[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringSetting(settings map[string]any, keys ...string) string {
	v, ok := lookup(settings, keys...)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func floatSetting(settings map[string]any, keys ...string) (float64, bool, error) {
	v, ok := lookup(settings, keys...)
	if !ok {
		return 0, false, nil
	}
	f, ok := logic.Float(v)
	if !ok {
		return 0, true, fmt.Errorf("%s: not a number: %v", keys[0], v)
	}
	return f, true, nil
}

func intSetting(settings map[string]any, keys ...string) (int, bool, error) {
	f, ok, err := floatSetting(settings, keys...)
	if !ok || err != nil {
		return 0, ok, err
	}
	return int(f), true, nil
}
