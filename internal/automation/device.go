package automation

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/growroom-automation/internal/router"
)

// Device mirrors one actuator. Status is the last commanded (or echoed)
// ON/OFF state.
type Device struct {
	ID   int
	Name string
	Pin  int

	mu      sync.Mutex
	status  bool
	changed time.Time
}

// NewDevice creates a Device that starts OFF.
func NewDevice(id int, name string, pin int) *Device {
	return &Device{ID: id, Name: name, Pin: pin}
}

// Status returns the current ON/OFF state.
func (d *Device) Status() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Changed returns when the status last changed. Zero if never.
func (d *Device) Changed() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// SetStatus sets the state and reports whether it changed.
func (d *Device) SetStatus(on bool, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == on && !d.changed.IsZero() {
		return false
	}
	changed := d.status != on
	d.status = on
	d.changed = at
	return changed
}

// SwitchTopic returns "switch/{name}".
func (d *Device) SwitchTopic() string {
	return router.Topic(router.ClassSwitch, d.Name)
}

// Registry indexes devices by ID and name.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int]*Device
	byName map[string]*Device
}

// NewRegistry creates a Registry holding devs.
func NewRegistry(devs ...*Device) *Registry {
	r := &Registry{byID: make(map[int]*Device), byName: make(map[string]*Device)}
	for _, d := range devs {
		r.Add(d)
	}
	return r
}

// Add registers d, replacing any device with the same ID or name.
func (r *Registry) Add(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d
	r.byName[d.Name] = d
}

// ByID looks a device up by ID.
func (r *Registry) ByID(id int) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ByName looks a device up by name.
func (r *Registry) ByName(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every device name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// All returns every device ordered by name.
func (r *Registry) All() []*Device {
	names := r.Names()
	out := make([]*Device, 0, len(names))
	for _, n := range names {
		if d, ok := r.ByName(n); ok {
			out = append(out, d)
		}
	}
	return out
}
