package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/timer"
)

// Range keeps a device ON inside a daily HH:MM window.
type Range struct {
	base
	window  logic.Window
	invalid error
	forced  bool
	timers  *timer.Manager
}

// NewRange creates a range automation for dev.
func NewRange(dev *Device, cfg Config, deps Deps) *Range {
	r := &Range{base: newBase(dev, CategoryRange, cfg, deps)}
	r.timers = timer.New(r.deps.Clock)
	r.handlers = map[router.TopicClass]func(context.Context, router.Message) error{
		router.ClassAutomation: r.handleAutomation,
		router.ClassSwitch:     func(_ context.Context, m router.Message) error { return r.echo(r.dev, m) },
	}
	r.parse()
	return r
}

func (r *Range) parse() {
	start := stringSetting(r.settings, "start_time", "start")
	end := stringSetting(r.settings, "end_time", "end")
	w, err := logic.ParseWindow(start, end)
	if err != nil {
		r.invalid = fmt.Errorf("window %q-%q: %w", start, end, err)
		r.deps.Windows.Remove(r.dev.Name)
		return
	}
	r.window = w
	r.invalid = nil
	r.forced = false
	r.deps.Windows.Set(r.dev.Name, w, r.active)
}

// Topics returns the automation and switch topics of the device.
func (r *Range) Topics() []string {
	return []string{
		router.Topic(router.ClassAutomation, r.dev.Name),
		r.dev.SwitchTopic(),
	}
}

// Control switches the device to match the window.
func (r *Range) Control(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.control(ctx)
}

func (r *Range) control(ctx context.Context) error {
	if !r.active || r.closed {
		return nil
	}
	if r.invalid != nil {
		// Fail closed: never leave the device in an unknown state.
		if r.dev.Status() || !r.forced {
			r.log.Error("invalid window, forcing off", zap.Error(r.invalid))
			if err := r.command(ctx, r.dev, false, "invalid window"); err != nil {
				return err
			}
			r.forced = true
		}
		return nil
	}

	now := r.deps.Clock.Now()
	want := r.window.Contains(now)
	start, end := r.window.Bounds(now)
	if err := r.ensure(ctx, r.dev, want, "time window",
		zap.String("window", r.window.String()),
		zap.Time("start", start),
		zap.Time("end", end),
	); err != nil {
		return err
	}

	// Arm the next boundary so the switch happens on the minute rather than
	// at the next periodic Control.
	r.timers.CancelAll()
	next := r.window.Next(now)
	r.timers.Schedule(next.Sub(now), !want, func(tctx context.Context) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if tctx.Err() != nil {
			return
		}
		if err := r.control(tctx); err != nil {
			r.log.Warn("boundary control failed", zap.Error(err))
		}
	})
	return nil
}

// ApplySettings replaces the window and re-evaluates.
func (r *Range) ApplySettings(ctx context.Context, active bool, settings map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(ctx, active, settings)
}

func (r *Range) apply(ctx context.Context, active bool, settings map[string]any) error {
	r.active = active
	r.settings = filterSettings(settings)
	r.timers.CancelAll()
	r.parse()
	if !active {
		r.log.Info("automation disabled")
		return nil
	}
	return r.control(ctx)
}

func (r *Range) handleAutomation(ctx context.Context, msg router.Message) error {
	active, settings, err := msg.Automation()
	if err != nil {
		return err
	}
	return r.apply(ctx, active, settings)
}

// HandleMessage dispatches an inbound message by topic class.
func (r *Range) HandleMessage(ctx context.Context, msg router.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.dispatch(ctx, msg)
}

// Status reports the window and pending boundary timers.
func (r *Range) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.baseStatus()
	if r.invalid != nil {
		st.Error = r.invalid.Error()
	} else {
		st.Detail = r.window.String()
	}
	st.PendingOn, _ = r.timers.ScheduledTime(true)
	st.PendingOff, _ = r.timers.ScheduledTime(false)
	return st
}

// Close cancels the boundary timer.
func (r *Range) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.timers.Close()
}
