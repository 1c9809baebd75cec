//go:build !linux

package gpio

import "errors"

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(chipName string, pins []int, activeLow bool) (*RealRelay, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealRelay) Set(pin int, on bool) error {
	return errors.New("gpio: not supported")
}

// Close is a no-op on non-Linux platforms.
func (r *RealRelay) Close() error {
	return nil
}
