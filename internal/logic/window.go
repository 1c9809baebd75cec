package logic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// on returns c on the calendar day of t, in t's location.
func (c Clock) on(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, t.Location())
}

// Window is a daily time-of-day window. End <= Start means it crosses midnight.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses start and end "HH:MM" strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return !w.Start.on(time.Time{}).Before(w.End.on(time.Time{}))
}

// Bounds returns the occurrence of the window that is current at now, or the
// next one if now is outside every occurrence.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	start := w.Start.on(now)
	end := w.End.on(now)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
		// Yesterday's occurrence is still running in the early hours.
		prevStart, prevEnd := start.AddDate(0, 0, -1), end.AddDate(0, 0, -1)
		if !now.Before(prevStart) && now.Before(prevEnd) {
			return prevStart, prevEnd
		}
	}
	if !now.Before(end) {
		start = start.AddDate(0, 0, 1)
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// Contains reports whether now falls inside the window: start <= now < end.
func (w Window) Contains(now time.Time) bool {
	start, end := w.Bounds(now)
	return !now.Before(start) && now.Before(end)
}

// Next returns the time of the next ON or OFF boundary after now.
func (w Window) Next(now time.Time) time.Time {
	start, end := w.Bounds(now)
	if now.Before(start) {
		return start
	}
	return end
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
