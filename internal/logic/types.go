// Package logic contains pure decision logic for the automation strategies.
// This package has NO external dependencies (no MQTT, KV store, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "errors"

// State represents the logical state of an actuator.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a boolean switch value to a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Position describes where a reading sits relative to a Band.
type Position int

const (
	Inside Position = iota
	Below
	Above
)

func (p Position) String() string {
	switch p {
	case Below:
		return "below"
	case Above:
		return "above"
	default:
		return "inside"
	}
}

var (
	// ErrBadClock is returned for time-of-day strings that are not HH:MM.
	ErrBadClock = errors.New("invalid time of day")

	// ErrBadSpan is returned for duty-cycle spans that cannot be converted to seconds.
	ErrBadSpan = errors.New("invalid time span")
)
