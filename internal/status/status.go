// Package status provides a thread-safe status tracker for the automation
// daemon. It is read by the HTTP handlers and the lifecycle events.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	Version           string
	Broker            string
	HTTPAddr          string
	Store             string
	ControlInterval   time.Duration
	ReconcileInterval time.Duration
	Heartbeat         time.Duration
}

// Device is the reported state of one automation. It is a local copy so
// status does not depend on the automation package.
type Device struct {
	Name       string
	Category   string
	Active     bool
	On         bool
	Changed    time.Time
	LastToggle time.Time
	PendingOn  time.Time
	PendingOff time.Time
	Reading    *float64
	InRange    int
	Mismatches int
	Detail     string
	Error      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	InstanceID    string
	Devices       []Device
	Corrections   int
	Restarts      map[string]int
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// On returns how many devices are currently ON.
func (s Snapshot) On() int {
	n := 0
	for _, d := range s.Devices {
		if d.On {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, instanceID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			InstanceID: instanceID,
			StartTime:  startTime,
			Config:     cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used by Snapshot.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update replaces the device states and counters. Called from the run loop
// on every status tick. The first call marks the daemon ready.
func (t *Tracker) Update(devices []Device, corrections int, restarts map[string]int) {
	d := append([]Device(nil), devices...)
	r := make(map[string]int, len(restarts))
	for k, v := range restarts {
		r[k] = v
	}
	t.mu.Lock()
	t.snap.Devices = d
	t.snap.Corrections = corrections
	t.snap.Restarts = r
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
