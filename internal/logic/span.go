package logic

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var unitSeconds = map[string]int64{
	"s":       1,
	"sec":     1,
	"second":  1,
	"seconds": 1,
	"m":       60,
	"min":     60,
	"minute":  60,
	"minutes": 60,
	"h":       3600,
	"hour":    3600,
	"hours":   3600,
	"d":       86400,
	"day":     86400,
	"days":    86400,
}

var spanPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

// ParseSpan converts a duty-cycle setting to a duration.
//
// Accepted forms: a {"value": n, "unit": "m"} map, a string such as "30s",
// "1m", "2h" or "1d", a bare number of seconds, or a numeric string.
func ParseSpan(v any) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrBadSpan)
	case map[string]any:
		return spanFromMap(x)
	case string:
		return spanFromString(x)
	default:
		n, ok := toFloat(x)
		if !ok {
			return 0, fmt.Errorf("%w: %v (%T)", ErrBadSpan, v, v)
		}
		return secondsToSpan(n, 1)
	}
}

func spanFromMap(m map[string]any) (time.Duration, error) {
	raw, ok := m["value"]
	if !ok {
		// {"seconds": 30} style
		for unit, mult := range unitSeconds {
			if n, ok := toFloat(m[unit]); ok {
				return secondsToSpan(n, mult)
			}
		}
		return 0, fmt.Errorf("%w: no value in %v", ErrBadSpan, m)
	}
	n, ok := toFloat(raw)
	if !ok {
		if s, isStr := raw.(string); isStr {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return 0, fmt.Errorf("%w: value %q", ErrBadSpan, s)
			}
			n = f
		} else {
			return 0, fmt.Errorf("%w: value %v", ErrBadSpan, raw)
		}
	}
	unit := "s"
	if u, ok := m["unit"].(string); ok && u != "" {
		unit = strings.ToLower(strings.TrimSpace(u))
	}
	mult, ok := unitSeconds[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unit %q", ErrBadSpan, unit)
	}
	return secondsToSpan(n, mult)
}

func spanFromString(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return secondsToSpan(f, 1)
	}
	match := spanPattern.FindStringSubmatch(s)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadSpan, s)
	}
	n, _ := strconv.ParseFloat(match[1], 64)
	mult, ok := unitSeconds[match[2]]
	if !ok {
		return 0, fmt.Errorf("%w: unit %q", ErrBadSpan, match[2])
	}
	return secondsToSpan(n, mult)
}

func secondsToSpan(n float64, mult int64) (time.Duration, error) {
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %v", ErrBadSpan, n)
	}
	return time.Duration(n * float64(mult) * float64(time.Second)), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

// Float converts a numeric setting (number or numeric string) to float64.
func Float(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
