// Package automation implements the per-device control strategies: time
// windows (range), duty cycles (interval) and sensor thresholds (target).
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/clock"
	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/store"
)

// Strategy is the common capability of every automation category.
// All methods are safe for concurrent use; each strategy serializes its
// own state.
type Strategy interface {
	Device() *Device
	Category() Category
	// Topics lists the exact topics the strategy wants delivered.
	Topics() []string
	// Control evaluates the strategy against the current time and state.
	Control(ctx context.Context) error
	// ApplySettings replaces the settings and re-runs initialization,
	// keeping the device status.
	ApplySettings(ctx context.Context, active bool, settings map[string]any) error
	HandleMessage(ctx context.Context, msg router.Message) error
	Status() Status
	// Close cancels pending timers. Later timer callbacks are no-ops.
	Close()
}

// Commander issues switch commands to devices.
type Commander interface {
	SetSwitch(ctx context.Context, name string, on bool) error
}

// Recovery reads and appends persisted toggle records.
type Recovery interface {
	Latest(ctx context.Context, name string) (on, off *store.ToggleRecord, err error)
	Append(ctx context.Context, rec store.ToggleRecord) error
}

// Observer is notified of every switch command a strategy issues.
type Observer interface {
	SwitchCommanded(device string, on bool, source string)
}

// Deps are the shared collaborators injected into every strategy.
type Deps struct {
	Commander Commander
	Recovery  Recovery
	Clock     clock.Clock
	Logger    *zap.Logger
	Windows   *WindowIndex
	Observer  Observer

	// RequiredCount is the in-band debounce for target automations.
	RequiredCount int
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Windows == nil {
		d.Windows = NewWindowIndex()
	}
	if d.RequiredCount <= 0 {
		d.RequiredCount = DefaultRequiredCount
	}
	return d
}

// DefaultRequiredCount is the default number of consecutive in-band
// readings before a target automation switches everything off.
const DefaultRequiredCount = 3

// Status is a point-in-time view of a strategy for reporting.
type Status struct {
	Device     string
	Category   Category
	Active     bool
	On         bool
	Changed    time.Time
	LastToggle time.Time
	PendingOn  time.Time // zero if no ON timer
	PendingOff time.Time // zero if no OFF timer
	Reading    *float64
	InRange    int
	Detail     string
	Error      string
}

// base holds what every strategy shares. mu serializes Control, message
// handling and timer callbacks for the device.
type base struct {
	mu       sync.Mutex
	dev      *Device
	category Category
	active   bool
	settings map[string]any
	deps     Deps
	log      *zap.Logger
	closed   bool
	handlers map[router.TopicClass]func(context.Context, router.Message) error
}

func newBase(dev *Device, cat Category, cfg Config, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		dev:      dev,
		category: cat,
		active:   cfg.Active,
		settings: filterSettings(cfg.Settings),
		deps:     deps,
		log: deps.Logger.Named("automation").With(
			zap.String("device", dev.Name),
			zap.String("category", string(cat)),
		),
	}
}

func (b *base) Device() *Device     { return b.dev }
func (b *base) Category() Category { return b.category }

// dispatch routes msg to the handler registered for its class.
func (b *base) dispatch(ctx context.Context, msg router.Message) error {
	h, ok := b.handlers[msg.Class]
	if !ok {
		return nil
	}
	return h(ctx, msg)
}

// echo records a switch echo for one of the strategy's devices.
func (b *base) echo(dev *Device, msg router.Message) error {
	on, err := msg.Switch()
	if err != nil {
		return fmt.Errorf("switch echo: %w", err)
	}
	if dev.SetStatus(on, b.deps.Clock.Now()) {
		b.log.Debug("switch echo", zap.String("actuator", dev.Name), zap.String("state", string(logic.StateOf(on))))
	}
	return nil
}

// command switches dev to on. Status is updated only after the command was
// accepted, so a failed publish leaves the previous state in place and the
// next cycle retries.
func (b *base) command(ctx context.Context, dev *Device, on bool, reason string, fields ...zap.Field) error {
	old := dev.Status()
	if b.deps.Commander == nil {
		return fmt.Errorf("switch %s: no commander", dev.Name)
	}
	if err := b.deps.Commander.SetSwitch(ctx, dev.Name, on); err != nil {
		b.log.Error("switch command failed",
			zap.String("actuator", dev.Name),
			zap.String("want", string(logic.StateOf(on))),
			zap.Error(err))
		return fmt.Errorf("switch %s: %w", dev.Name, err)
	}
	dev.SetStatus(on, b.deps.Clock.Now())
	if b.deps.Observer != nil {
		b.deps.Observer.SwitchCommanded(dev.Name, on, string(b.category))
	}
	b.log.Info("switch",
		append([]zap.Field{
			zap.String("actuator", dev.Name),
			zap.String("from", string(logic.StateOf(old))),
			zap.String("to", string(logic.StateOf(on))),
			zap.String("reason", reason),
		}, fields...)...)
	return nil
}

// ensure commands dev to on only if its status differs.
func (b *base) ensure(ctx context.Context, dev *Device, on bool, reason string, fields ...zap.Field) error {
	if dev.Status() == on {
		return nil
	}
	return b.command(ctx, dev, on, reason, fields...)
}

func (b *base) baseStatus() Status {
	return Status{
		Device:   b.dev.Name,
		Category: b.category,
		Active:   b.active,
		On:       b.dev.Status(),
		Changed:  b.dev.Changed(),
	}
}
