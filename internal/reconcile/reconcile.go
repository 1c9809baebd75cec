// Package reconcile corrects drift between the commanded switch state and
// the sensed current of each device.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/store"
)

// DefaultThreshold is the number of consecutive disagreeing polls before a
// forced switch.
const DefaultThreshold = 3

// Commander issues switch commands.
type Commander interface {
	SetSwitch(ctx context.Context, name string, on bool) error
}

// Observer is notified of every forced correction.
type Observer interface {
	Corrected(device string, on bool)
}

// Options configures a Reconciler.
type Options struct {
	// Threshold is the number of consecutive mismatches before correcting.
	Threshold int
	// CurrentThreshold is the reading above which a numeric current value
	// counts as ON.
	CurrentThreshold float64
	Logger           *zap.Logger
	Clock            clock.Clock
	Observer         Observer
}

type device struct {
	streak   *logic.Streak
	lastSeen *bool
}

// DeviceState is the reconciler's view of one device.
type DeviceState struct {
	Name        string `json:"name"`
	Mismatches  int    `json:"mismatches"`
	LastCurrent *bool  `json:"last_current,omitempty"`
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Devices     []DeviceState `json:"devices"`
	Corrections int           `json:"corrections"`
	LastPoll    time.Time     `json:"last_poll"`
}

// Reconciler polls the switch and current mirrors in the KV and forces the
// switch to the sensed value after persistent disagreement.
type Reconciler struct {
	kv    store.KV
	cmd   Commander
	names func() []string
	opts  Options
	log   *zap.Logger

	mu          sync.Mutex
	devices     map[string]*device
	corrections int
	lastPoll    time.Time
}

// New creates a Reconciler. names is called on every poll.
func New(kv store.KV, cmd Commander, names func() []string, opts Options) *Reconciler {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Reconciler{
		kv:      kv,
		cmd:     cmd,
		names:   names,
		opts:    opts,
		log:     opts.Logger.Named("reconcile"),
		devices: make(map[string]*device),
	}
}

// Run polls on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.Poll(ctx)
		}
	}
}

// Poll runs one reconciliation pass over every device.
func (r *Reconciler) Poll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPoll = r.opts.Clock.Now()
	for _, name := range r.names() {
		if ctx.Err() != nil {
			return
		}
		r.check(ctx, name)
	}
}

func (r *Reconciler) check(ctx context.Context, name string) {
	log := r.log.With(zap.String("device", name))

	raw, ok, err := r.kv.Get(ctx, store.CurrentKey(name))
	if err != nil {
		log.Warn("read current failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	sensed, err := parseCurrent(raw, r.opts.CurrentThreshold)
	if err != nil {
		log.Warn("bad current value", zap.String("value", raw), zap.Error(err))
		return
	}

	commanded := false
	if raw, ok, err := r.kv.Get(ctx, store.SwitchKey(name)); err != nil {
		log.Warn("read switch failed", zap.Error(err))
		return
	} else if ok {
		if commanded, err = router.ParseBoolValue(raw); err != nil {
			log.Warn("bad switch value", zap.String("value", raw), zap.Error(err))
			return
		}
	}

	d := r.devices[name]
	if d == nil {
		d = &device{streak: logic.NewStreak(r.opts.Threshold)}
		r.devices[name] = d
	}
	changed := d.lastSeen == nil || *d.lastSeen != sensed
	d.lastSeen = &sensed

	if sensed == commanded {
		if d.streak.Count() > 0 {
			log.Debug("current agrees with switch", zap.Bool("on", sensed))
		}
		d.streak.Reset()
		return
	}

	reached := d.streak.Observe(true)
	if changed {
		log.Info("current disagrees with switch",
			zap.Bool("current", sensed),
			zap.Bool("switch", commanded),
			zap.Int("count", d.streak.Count()),
			zap.Int("threshold", d.streak.Required()))
	}
	if !reached {
		return
	}

	if err := r.cmd.SetSwitch(ctx, name, sensed); err != nil {
		// The streak stays at the threshold so the next poll retries.
		log.Error("forced switch failed", zap.Bool("on", sensed), zap.Error(err))
		return
	}
	if err := r.kv.Set(ctx, store.SwitchKey(name), strconv.FormatBool(sensed)); err != nil {
		log.Warn("switch mirror not updated", zap.Error(err))
	}
	r.corrections++
	if r.opts.Observer != nil {
		r.opts.Observer.Corrected(name, sensed)
	}
	log.Warn("forced switch to match current",
		zap.String("from", string(logic.StateOf(commanded))),
		zap.String("to", string(logic.StateOf(sensed))),
		zap.Int("mismatches", d.streak.Count()))
	d.streak.Reset()
}

// parseCurrent reads a mirrored current value: a number compared against
// threshold, or a boolean word.
func parseCurrent(raw string, threshold float64) (bool, error) {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f > threshold, nil
	}
	on, err := router.ParseBoolValue(s)
	if err != nil {
		return false, fmt.Errorf("current %q: %w", raw, err)
	}
	return on, nil
}

// Snapshot returns the mismatch counters, sorted by device name.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Corrections: r.corrections, LastPoll: r.lastPoll}
	for name, d := range r.devices {
		st := DeviceState{Name: name, Mismatches: d.streak.Count()}
		if d.lastSeen != nil {
			v := *d.lastSeen
			st.LastCurrent = &v
		}
		snap.Devices = append(snap.Devices, st)
	}
	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].Name < snap.Devices[j].Name })
	return snap
}
