package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
	"github.com/sweeney/growroom-automation/internal/store"
	"github.com/sweeney/growroom-automation/internal/timer"
)

// Interval runs a duty cycle: ON for duration, OFF for interval, repeat.
type Interval struct {
	base
	duration   time.Duration
	interval   time.Duration
	modifier   IntervalModifier
	invalid    error
	timers     *timer.Manager
	lastToggle time.Time
}

// NewInterval creates an interval automation for dev.
func NewInterval(dev *Device, cfg Config, deps Deps) *Interval {
	s := &Interval{base: newBase(dev, CategoryInterval, cfg, deps)}
	s.timers = timer.New(s.deps.Clock)
	s.handlers = map[router.TopicClass]func(context.Context, router.Message) error{
		router.ClassAutomation: s.handleAutomation,
		router.ClassSwitch:     func(_ context.Context, m router.Message) error { return s.echo(s.dev, m) },
	}
	s.parse()
	return s
}

// SetModifier installs an interval modifier, replacing any configured one.
func (s *Interval) SetModifier(m IntervalModifier) {
	s.mu.Lock()
	s.modifier = m
	s.mu.Unlock()
}

func (s *Interval) parse() {
	s.invalid = nil
	d, err := logic.ParseSpan(first(s.settings, "duration"))
	if err != nil {
		s.invalid = fmt.Errorf("duration: %w", err)
		return
	}
	i, err := logic.ParseSpan(first(s.settings, "interval"))
	if err != nil {
		s.invalid = fmt.Errorf("interval: %w", err)
		return
	}
	if d <= 0 || i <= 0 {
		s.invalid = fmt.Errorf("duration %v and interval %v must be positive", d, i)
		return
	}
	s.duration, s.interval = d, i
	if light := stringSetting(s.settings, "light_device", "lightDevice"); light != "" {
		s.modifier = LightCorrelated(s.deps.Windows, light)
	}
}

// Topics returns the automation and switch topics of the device.
func (s *Interval) Topics() []string {
	return []string{
		router.Topic(router.ClassAutomation, s.dev.Name),
		s.dev.SwitchTopic(),
	}
}

func (s *Interval) effectiveInterval(now time.Time) time.Duration {
	if s.modifier == nil {
		return s.interval
	}
	return s.modifier(s.interval, now)
}

// Control recovers the cycle on first run and corrects drift afterwards.
func (s *Interval) Control(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control(ctx)
}

func (s *Interval) control(ctx context.Context) error {
	if !s.active || s.closed {
		return nil
	}
	if s.invalid != nil {
		if s.dev.Status() {
			s.log.Error("invalid duty cycle, forcing off", zap.Error(s.invalid))
			return s.command(ctx, s.dev, false, "invalid duty cycle")
		}
		return nil
	}
	now := s.deps.Clock.Now()
	if s.lastToggle.IsZero() {
		return s.firstRun(ctx, now)
	}
	return s.verify(ctx, now)
}

// firstRun resumes from the persisted toggle records: the latest record
// decides the state and the opposite timer runs from its timestamp.
func (s *Interval) firstRun(ctx context.Context, now time.Time) error {
	var on, off *store.ToggleRecord
	if s.deps.Recovery != nil {
		var err error
		on, off, err = s.deps.Recovery.Latest(ctx, s.dev.Name)
		if err != nil {
			s.log.Warn("recovery read failed, starting off", zap.Error(err))
			on, off = nil, nil
		}
	}

	// A record stamped in the future (clock skew on another writer) is
	// ignored on its own; the other class may still be usable.
	if on != nil && on.At.After(now) {
		s.log.Warn("ignoring future toggle record", zap.Time("recorded_at", on.At))
		on = nil
	}
	if off != nil && off.At.After(now) {
		s.log.Warn("ignoring future toggle record", zap.Time("recorded_at", off.At))
		off = nil
	}

	last := on
	if last == nil || (off != nil && off.At.After(last.At)) {
		last = off
	}

	if last == nil {
		if err := s.ensure(ctx, s.dev, false, "no toggle history"); err != nil {
			return err
		}
		s.lastToggle = now
		span := s.effectiveInterval(now)
		s.arm(true, span)
		s.log.Info("first run without history", zap.Duration("next_on_in", span))
		return nil
	}

	if err := s.ensure(ctx, s.dev, last.Status, "recovered state",
		zap.Time("recorded_at", last.At)); err != nil {
		return err
	}
	s.lastToggle = last.At
	elapsed := now.Sub(last.At)
	span := s.spanFor(last.Status, now)
	s.arm(!last.Status, span-elapsed)
	s.log.Info("recovered",
		zap.String("state", string(logic.StateOf(last.Status))),
		zap.Time("recorded_at", last.At),
		zap.Duration("elapsed", elapsed),
		zap.Duration("span", span))
	return nil
}

// spanFor returns how long the device stays in state on.
func (s *Interval) spanFor(on bool, now time.Time) time.Duration {
	if on {
		return s.duration
	}
	return s.effectiveInterval(now)
}

// verify checks the armed timers agree with the commanded state. If they
// don't (manual override, lost timer, failed publish), it recomputes from
// the last toggle and transitions or re-arms.
func (s *Interval) verify(ctx context.Context, now time.Time) error {
	status := s.dev.Status()
	onPending := s.timers.IsActive(true)
	offPending := s.timers.IsActive(false)
	if status && offPending && !onPending {
		return nil
	}
	if !status && onPending && !offPending {
		return nil
	}

	s.timers.CancelAll()
	elapsed := now.Sub(s.lastToggle)
	span := s.spanFor(status, now)
	if elapsed >= span {
		s.log.Info("schedule drift, toggling",
			zap.String("state", string(logic.StateOf(status))),
			zap.Duration("elapsed", elapsed),
			zap.Duration("span", span))
		return s.toggle(ctx, !status, now)
	}
	s.arm(!status, span-elapsed)
	s.log.Info("schedule drift, re-armed",
		zap.String("state", string(logic.StateOf(status))),
		zap.Duration("remaining", span-elapsed))
	return nil
}

// toggle commands on, records the toggle and arms the opposite timer.
func (s *Interval) toggle(ctx context.Context, on bool, now time.Time) error {
	reason := fmt.Sprintf("interval %v elapsed", s.effectiveInterval(now))
	if !on {
		reason = fmt.Sprintf("duration %v elapsed", s.duration)
	}
	if err := s.ensure(ctx, s.dev, on, reason); err != nil {
		return err
	}
	s.lastToggle = now
	s.record(ctx, on, now)
	s.arm(!on, s.spanFor(on, now))
	return nil
}

func (s *Interval) record(ctx context.Context, on bool, at time.Time) {
	if s.deps.Recovery == nil {
		return
	}
	rec := store.ToggleRecord{Name: s.dev.Name, Status: on, At: at}
	if err := s.deps.Recovery.Append(ctx, rec); err != nil {
		s.log.Warn("toggle record not saved", zap.Error(err))
	}
}

// arm schedules the timer that turns the device to on after delay.
func (s *Interval) arm(on bool, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.timers.Schedule(delay, on, func(tctx context.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if tctx.Err() != nil || s.closed {
			return
		}
		if !s.active {
			s.log.Debug("timer fired while disabled, ignoring")
			return
		}
		if err := s.toggle(tctx, on, s.deps.Clock.Now()); err != nil {
			// Control's drift check picks this up on the next tick.
			s.log.Warn("timer toggle failed", zap.Error(err))
		}
	})
}

// ApplySettings replaces duration/interval and restarts the cycle from the
// persisted records. The device status is kept.
func (s *Interval) ApplySettings(ctx context.Context, active bool, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, active, settings)
}

func (s *Interval) apply(ctx context.Context, active bool, settings map[string]any) error {
	s.active = active
	s.settings = filterSettings(settings)
	s.timers.CancelAll()
	s.lastToggle = time.Time{}
	s.parse()
	if !active {
		s.log.Info("automation disabled")
		return nil
	}
	return s.control(ctx)
}

func (s *Interval) handleAutomation(ctx context.Context, msg router.Message) error {
	active, settings, err := msg.Automation()
	if err != nil {
		return err
	}
	return s.apply(ctx, active, settings)
}

// HandleMessage dispatches an inbound message by topic class.
func (s *Interval) HandleMessage(ctx context.Context, msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.dispatch(ctx, msg)
}

// Status reports the duty cycle and pending timers.
func (s *Interval) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.baseStatus()
	st.LastToggle = s.lastToggle
	st.PendingOn, _ = s.timers.ScheduledTime(true)
	st.PendingOff, _ = s.timers.ScheduledTime(false)
	if s.invalid != nil {
		st.Error = s.invalid.Error()
	} else {
		st.Detail = fmt.Sprintf("on %v / off %v", s.duration, s.effectiveInterval(s.deps.Clock.Now()))
	}
	return st
}

// Close cancels pending timers.
func (s *Interval) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.timers.Close()
}
