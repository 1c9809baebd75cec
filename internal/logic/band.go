package logic

import "fmt"

// Band is the hysteresis band [Target-Margin, Target+Margin].
type Band struct {
	Target float64
	Margin float64
}

// Lower returns the bottom of the band.
func (b Band) Lower() float64 { return b.Target - b.Margin }

// Upper returns the top of the band.
func (b Band) Upper() float64 { return b.Target + b.Margin }

// Classify places v relative to the band. Both edges count as inside.
func (b Band) Classify(v float64) Position {
	switch {
	case v < b.Lower():
		return Below
	case v > b.Upper():
		return Above
	default:
		return Inside
	}
}

func (b Band) String() string {
	return fmt.Sprintf("%.2f..%.2f", b.Lower(), b.Upper())
}
