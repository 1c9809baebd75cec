package automation

import (
	"sync"
	"time"

	"github.com/sweeney/growroom-automation/internal/logic"
)

// DefaultLightOffset is how far a target is lowered while the correlated
// light is off.
const DefaultLightOffset = 5.0

type windowEntry struct {
	window logic.Window
	active bool
}

// WindowIndex holds the configured time windows of range automations by
// device name. Interval modifiers and target shifts consult it instead of
// polling the lighting device.
type WindowIndex struct {
	mu      sync.RWMutex
	windows map[string]windowEntry
}

// NewWindowIndex creates an empty index.
func NewWindowIndex() *WindowIndex {
	return &WindowIndex{windows: make(map[string]windowEntry)}
}

// Set records the window for name.
func (x *WindowIndex) Set(name string, w logic.Window, active bool) {
	x.mu.Lock()
	x.windows[name] = windowEntry{window: w, active: active}
	x.mu.Unlock()
}

// Remove forgets name.
func (x *WindowIndex) Remove(name string) {
	x.mu.Lock()
	delete(x.windows, name)
	x.mu.Unlock()
}

// IsOn reports whether name's window contains now. A missing or inactive
// window counts as off.
func (x *WindowIndex) IsOn(name string, now time.Time) bool {
	x.mu.RLock()
	e, ok := x.windows[name]
	x.mu.RUnlock()
	if !ok || !e.active {
		return false
	}
	return e.window.Contains(now)
}

// IntervalModifier adjusts an interval automation's OFF span.
type IntervalModifier func(base time.Duration, now time.Time) time.Duration

// LightCorrelated doubles the interval while light's window is off.
func LightCorrelated(idx *WindowIndex, light string) IntervalModifier {
	return func(base time.Duration, now time.Time) time.Duration {
		if idx.IsOn(light, now) {
			return base
		}
		return base * 2
	}
}

// TargetShift adjusts a target automation's set point.
type TargetShift func(target float64, now time.Time) float64

// LightShift lowers the target by offset while light's window is off.
func LightShift(idx *WindowIndex, light string, offset float64) TargetShift {
	return func(target float64, now time.Time) float64 {
		if idx.IsOn(light, now) {
			return target
		}
		return target - offset
	}
}
