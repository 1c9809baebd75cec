package logic

// Streak counts consecutive matching observations and reports when a
// required run length is reached. It debounces noisy inputs: a single
// miss resets the run.
//
// Not safe for concurrent use; the owner serializes access.
type Streak struct {
	required int
	count    int
}

// NewStreak creates a Streak that fires after required consecutive hits.
// A required value below 1 is treated as 1.
func NewStreak(required int) *Streak {
	if required < 1 {
		required = 1
	}
	return &Streak{required: required}
}

// Observe records one observation. A hit increments the count (capped at the
// required length), a miss resets it. Returns true once the count has reached
// the required length.
func (s *Streak) Observe(hit bool) bool {
	if !hit {
		s.count = 0
		return false
	}
	if s.count < s.required {
		s.count++
	}
	return s.count >= s.required
}

// Reached reports whether the current run is at the required length.
func (s *Streak) Reached() bool {
	return s.count >= s.required
}

// Count returns the current run length.
func (s *Streak) Count() int {
	return s.count
}

// Required returns the run length needed to fire.
func (s *Streak) Required() int {
	return s.required
}

// Reset clears the run.
func (s *Streak) Reset() {
	s.count = 0
}
