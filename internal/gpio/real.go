//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelay drives relay pins through the Linux GPIO character device.
type RealRelay struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealRelay requests pins as outputs, initially OFF. Relay boards that
// energise on a low level need activeLow.
func NewRealRelay(chipName string, pins []int, activeLow bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}
	r := &RealRelay{chip: chip, lines: make(map[int]*gpiocdev.Line, len(pins))}
	for _, pin := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(pin, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		r.lines[pin] = line
	}
	return r, nil
}

// Set drives pin to on.
func (r *RealRelay) Set(pin int, on bool) error {
	line, ok := r.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not requested", pin)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close reconfigures every pin to input with pull-down, matching the Pi
// boot defaults, then releases the lines and the chip.
func (r *RealRelay) Close() error {
	var errs []error
	for pin, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}
