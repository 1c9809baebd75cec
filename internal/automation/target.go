package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sweeney/growroom-automation/internal/logic"
	"github.com/sweeney/growroom-automation/internal/router"
)

// Target holds a sensor reading inside target±margin by switching an
// increasing and/or a decreasing actuator. It is driven only by readings.
type Target struct {
	base
	registry *Registry
	band     logic.Band
	sensor   string
	increase *Device
	decrease *Device
	shift    TargetShift
	streak   *logic.Streak
	invalid  error

	hasValue bool
	value    float64
}

// NewTarget creates a target automation for dev. Actuator IDs in the
// settings are resolved through registry; an unknown ID is an error.
func NewTarget(dev *Device, cfg Config, deps Deps, registry *Registry) (*Target, error) {
	s := &Target{base: newBase(dev, CategoryTarget, cfg, deps), registry: registry}
	s.handlers = map[router.TopicClass]func(context.Context, router.Message) error{
		router.ClassAutomation:  s.handleAutomation,
		router.ClassEnvironment: s.handleReading,
		router.ClassSwitch:      s.handleSwitch,
	}
	if err := s.parse(); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}
		s.invalid = err
	}
	return s, nil
}

// SetShift installs a target shift, replacing any configured one.
func (s *Target) SetShift(f TargetShift) {
	s.mu.Lock()
	s.shift = f
	s.mu.Unlock()
}

func (s *Target) parse() error {
	s.invalid = nil
	s.sensor = stringSetting(s.settings, "sensor", "environment")
	if s.sensor == "" {
		s.sensor = s.dev.Name
	}

	target, okT, err := floatSetting(s.settings, "target")
	if err != nil {
		return err
	}
	margin, okM, err := floatSetting(s.settings, "margin")
	if err != nil {
		return err
	}
	if !okT || !okM {
		return errors.New("target and margin are required")
	}
	if margin < 0 {
		return fmt.Errorf("margin %v must not be negative", margin)
	}
	s.band = logic.Band{Target: target, Margin: margin}

	required := s.deps.RequiredCount
	if n, ok, err := intSetting(s.settings, "required_count", "requiredCount"); err != nil {
		return err
	} else if ok && n > 0 {
		required = n
	}
	if s.streak == nil || s.streak.Required() != required {
		s.streak = logic.NewStreak(required)
	} else {
		s.streak.Reset()
	}

	s.increase, s.decrease = nil, nil
	incID, hasInc, err := intSetting(s.settings, "increase_device_id", "increaseDeviceId")
	if err != nil {
		return err
	}
	decID, hasDec, err := intSetting(s.settings, "decrease_device_id", "decreaseDeviceId")
	if err != nil {
		return err
	}
	if hasInc {
		d, ok := s.resolve(incID)
		if !ok {
			return fmt.Errorf("increase device %d: %w", incID, ErrDeviceNotFound)
		}
		s.increase = d
	}
	if hasDec {
		d, ok := s.resolve(decID)
		if !ok {
			return fmt.Errorf("decrease device %d: %w", decID, ErrDeviceNotFound)
		}
		s.decrease = d
	}
	if !hasInc && !hasDec {
		// Single-actuator mode: the device itself pushes the value one way.
		if strings.EqualFold(stringSetting(s.settings, "direction"), "decrease") {
			s.decrease = s.dev
		} else {
			s.increase = s.dev
		}
	}

	if light := stringSetting(s.settings, "light_device", "lightDevice"); light != "" {
		offset := DefaultLightOffset
		if f, ok, err := floatSetting(s.settings, "light_offset", "lightOffset"); err != nil {
			return err
		} else if ok {
			offset = f
		}
		s.shift = LightShift(s.deps.Windows, light, offset)
	}
	return nil
}

func (s *Target) resolve(id int) (*Device, bool) {
	if id == s.dev.ID {
		return s.dev, true
	}
	if s.registry == nil {
		return nil, false
	}
	return s.registry.ByID(id)
}

// actuators returns the distinct devices switched by this automation.
func (s *Target) actuators() []*Device {
	var out []*Device
	for _, d := range []*Device{s.increase, s.decrease} {
		if d == nil {
			continue
		}
		dup := false
		for _, o := range out {
			if o == d {
				dup = true
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

// Topics returns the automation, sensor and actuator switch topics.
func (s *Target) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := []string{
		router.Topic(router.ClassAutomation, s.dev.Name),
		router.Topic(router.ClassEnvironment, s.sensor),
		s.dev.SwitchTopic(),
	}
	for _, d := range s.actuators() {
		if d != s.dev {
			topics = append(topics, d.SwitchTopic())
		}
	}
	return topics
}

// Control only enforces the OFF state of invalid settings. A target is
// driven by readings; a periodic tick is not a new observation.
func (s *Target) Control(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.closed || s.invalid == nil {
		return nil
	}
	return s.forceOff(ctx)
}

func (s *Target) forceOff(ctx context.Context) error {
	devs := s.actuators()
	if len(devs) == 0 {
		devs = []*Device{s.dev}
	}
	var firstErr error
	for _, d := range devs {
		if d.Status() {
			s.log.Error("invalid target settings, forcing off", zap.Error(s.invalid))
			if err := s.command(ctx, d, false, "invalid settings"); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// evaluate compares the latest reading with the band. Only a fresh reading
// advances the in-band count.
func (s *Target) evaluate(ctx context.Context, fresh bool) error {
	if !s.active || s.closed {
		return nil
	}
	if s.invalid != nil {
		return s.forceOff(ctx)
	}
	if !s.hasValue {
		return nil
	}

	now := s.deps.Clock.Now()
	band := s.band
	if s.shift != nil {
		band.Target = s.shift(band.Target, now)
	}
	v := s.value
	fields := []zap.Field{
		zap.Float64("value", v),
		zap.Float64("target", band.Target),
		zap.Float64("lower", band.Lower()),
		zap.Float64("upper", band.Upper()),
	}

	switch band.Classify(v) {
	case logic.Below:
		s.streak.Reset()
		return s.drive(ctx, s.increase, s.decrease, "below band", fields)
	case logic.Above:
		s.streak.Reset()
		return s.drive(ctx, s.decrease, s.increase, "above band", fields)
	}
	if !fresh {
		return nil
	}

	reached := s.streak.Observe(true)
	s.log.Debug("in band", append(fields,
		zap.Int("count", s.streak.Count()),
		zap.Int("required", s.streak.Required()))...)
	if !reached {
		return nil
	}
	anyOn := false
	for _, d := range s.actuators() {
		if d.Status() {
			anyOn = true
		}
	}
	if !anyOn {
		return nil
	}
	reason := fmt.Sprintf("in band for %d readings", s.streak.Required())
	var firstErr error
	for _, d := range s.actuators() {
		if err := s.ensure(ctx, d, false, reason, fields...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.streak.Reset()
	return firstErr
}

// drive turns on toward the target and turns off the opposing actuator.
func (s *Target) drive(ctx context.Context, on, off *Device, reason string, fields []zap.Field) error {
	var firstErr error
	if off != nil && off != on {
		if err := s.ensure(ctx, off, false, reason, fields...); err != nil {
			firstErr = err
		}
	}
	if on != nil {
		if err := s.ensure(ctx, on, true, reason, fields...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Target) handleReading(ctx context.Context, msg router.Message) error {
	if msg.Name != s.sensor {
		return nil
	}
	v, err := msg.Reading()
	if err != nil {
		return err
	}
	s.value = v
	s.hasValue = true
	if !s.active {
		return nil
	}
	return s.evaluate(ctx, true)
}

func (s *Target) handleSwitch(ctx context.Context, msg router.Message) error {
	if msg.Name == s.dev.Name {
		return s.echo(s.dev, msg)
	}
	for _, d := range s.actuators() {
		if d.Name == msg.Name {
			return s.echo(d, msg)
		}
	}
	return nil
}

// ApplySettings replaces the band and actuators. The last reading is kept
// but the in-band count restarts.
func (s *Target) ApplySettings(ctx context.Context, active bool, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, active, settings)
}

func (s *Target) apply(ctx context.Context, active bool, settings map[string]any) error {
	s.active = active
	s.settings = filterSettings(settings)
	if err := s.parse(); err != nil {
		s.invalid = err
		s.log.Error("invalid target settings", zap.Error(err))
	}
	if !active {
		s.log.Info("automation disabled")
		return nil
	}
	return s.evaluate(ctx, false)
}

func (s *Target) handleAutomation(ctx context.Context, msg router.Message) error {
	active, settings, err := msg.Automation()
	if err != nil {
		return err
	}
	return s.apply(ctx, active, settings)
}

// HandleMessage dispatches an inbound message by topic class.
func (s *Target) HandleMessage(ctx context.Context, msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.dispatch(ctx, msg)
}

// Status reports the band, last reading and in-band count.
func (s *Target) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.baseStatus()
	if s.hasValue {
		v := s.value
		st.Reading = &v
	}
	if s.streak != nil {
		st.InRange = s.streak.Count()
	}
	if s.invalid != nil {
		st.Error = s.invalid.Error()
	} else {
		st.Detail = fmt.Sprintf("%s %.2f±%.2f", s.sensor, s.band.Target, s.band.Margin)
	}
	return st
}

// Close marks the automation closed.
func (s *Target) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
